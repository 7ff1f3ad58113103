package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"StableVault/internal/engine"
)

// Service provides read-only access for liquidator bots and dashboards.
// Position and solvency queries read the engine's live state; history queries
// read the Postgres operation log. The db handle may be nil, in which case
// history queries report unavailability.
type Service struct {
	engine *engine.Engine
	db     *sql.DB
}

func NewService(eng *engine.Engine, db *sql.DB) *Service {
	return &Service{engine: eng, db: db}
}

// GetPosition returns the account's deposits, debt, and solvency numbers.
// Per-asset USD values are filled in best-effort; the aggregate value and
// health factor fail if any needed quote is stale or missing.
func (s *Service) GetPosition(ctx context.Context, account uuid.UUID) (*PositionResponse, error) {
	collateralUsd, err := s.engine.CollateralValueUsd(ctx, account)
	if err != nil {
		return nil, err
	}
	hf, err := s.engine.HealthFactorOf(ctx, account)
	if err != nil {
		return nil, err
	}

	var entries []CollateralEntry
	for _, aa := range s.engine.CollateralOf(account) {
		entry := CollateralEntry{
			Asset:  aa.Asset.Symbol,
			FeedID: aa.Asset.FeedID,
			Amount: aa.Amount.String(),
		}
		if aa.Amount.Sign() > 0 {
			if v, err := s.engine.UsdValue(ctx, aa.Asset.Symbol, aa.Amount); err == nil {
				entry.UsdValue = v.String()
			}
		}
		entries = append(entries, entry)
	}

	return &PositionResponse{
		Account:            account,
		Collateral:         entries,
		CollateralValueUsd: collateralUsd.String(),
		Debt:               s.engine.DebtOf(account).String(),
		HealthFactor:       hf.String(),
		Liquidatable:       s.liquidatable(hf),
	}, nil
}

// GetHealth returns just the solvency score, for cheap polling.
func (s *Service) GetHealth(ctx context.Context, account uuid.UUID) (*HealthResponse, error) {
	hf, err := s.engine.HealthFactorOf(ctx, account)
	if err != nil {
		return nil, err
	}
	return &HealthResponse{
		Account:      account,
		HealthFactor: hf.String(),
		Liquidatable: s.liquidatable(hf),
	}, nil
}

// GetAssets lists the fixed collateral registry.
func (s *Service) GetAssets() []AssetResponse {
	assets := s.engine.Assets()
	out := make([]AssetResponse, 0, len(assets))
	for _, a := range assets {
		out = append(out, AssetResponse{Symbol: a.Symbol, FeedID: a.FeedID})
	}
	return out
}

// GetValue prices an asset amount in USD at the live quote.
func (s *Service) GetValue(ctx context.Context, asset string, amount *big.Int) (*ValueResponse, error) {
	v, err := s.engine.UsdValue(ctx, asset, amount)
	if err != nil {
		return nil, err
	}
	return &ValueResponse{
		Asset:    asset,
		Amount:   amount.String(),
		UsdValue: v.String(),
	}, nil
}

// GetParams exposes the risk constants so bots can reproduce the arithmetic.
func (s *Service) GetParams() ParamsResponse {
	p := s.engine.Params()
	return ParamsResponse{
		LiquidationThreshold: p.LiquidationThreshold,
		LiquidationBonus:     p.LiquidationBonus,
		LiquidationPrecision: p.LiquidationPrecision,
		MinHealthFactor:      p.MinHealthFactor.String(),
	}
}

// GetOperationHistory returns an account's committed operations, newest
// first, with cursor-based pagination on the timestamp.
func (s *Service) GetOperationHistory(
	ctx context.Context,
	account uuid.UUID,
	limit int,
	before *time.Time,
) ([]OperationResponse, error) {
	if s.db == nil {
		return nil, fmt.Errorf("operation log not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT operation_id, event_type, account, counterparty, asset,
		       amount, debt_covered, health_factor, ts
		FROM vault.operations
		WHERE (account = $1 OR counterparty = $1)
	`
	args := []interface{}{account}
	argIdx := 2

	if before != nil {
		query += fmt.Sprintf(" AND ts < $%d", argIdx)
		args = append(args, *before)
		argIdx++
	}

	query += " ORDER BY ts DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []OperationResponse
	for rows.Next() {
		var op OperationResponse
		if err := rows.Scan(
			&op.OperationID, &op.EventType, &op.Account, &op.Counterparty,
			&op.Asset, &op.Amount, &op.DebtCovered, &op.HealthFactor, &op.Timestamp,
		); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	return ops, rows.Err()
}

func (s *Service) liquidatable(hf *big.Int) bool {
	return hf.Cmp(engine.MinHealthFactor) < 0
}
