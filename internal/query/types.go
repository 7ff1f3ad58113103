package query

import (
	"time"

	"github.com/google/uuid"
)

// Fixed-point amounts travel as decimal strings in every response so clients
// never lose precision to JSON numbers.

// CollateralEntry is one asset line inside a position.
type CollateralEntry struct {
	Asset    string `json:"asset"`
	FeedID   string `json:"feed_id"`
	Amount   string `json:"amount"`
	UsdValue string `json:"usd_value,omitempty"`
}

// PositionResponse is the full view of an account: deposits, debt, and the
// derived solvency numbers, all computed at query time from live state.
type PositionResponse struct {
	Account            uuid.UUID         `json:"account"`
	Collateral         []CollateralEntry `json:"collateral"`
	CollateralValueUsd string            `json:"collateral_value_usd"`
	Debt               string            `json:"debt"`
	HealthFactor       string            `json:"health_factor"`
	Liquidatable       bool              `json:"liquidatable"`
}

// HealthResponse is the solvency score alone, for cheap liquidator polling.
type HealthResponse struct {
	Account      uuid.UUID `json:"account"`
	HealthFactor string    `json:"health_factor"`
	Liquidatable bool      `json:"liquidatable"`
}

// AssetResponse describes one registered collateral asset.
type AssetResponse struct {
	Symbol string `json:"symbol"`
	FeedID string `json:"feed_id"`
}

// ValueResponse is a USD valuation of an asset amount at the live quote.
type ValueResponse struct {
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	UsdValue string `json:"usd_value"`
}

// ParamsResponse exposes the engine's risk constants.
type ParamsResponse struct {
	LiquidationThreshold int64  `json:"liquidation_threshold"`
	LiquidationBonus     int64  `json:"liquidation_bonus"`
	LiquidationPrecision int64  `json:"liquidation_precision"`
	MinHealthFactor      string `json:"min_health_factor"`
}

// OperationResponse is one row of an account's operation history.
type OperationResponse struct {
	OperationID  string    `json:"operation_id"`
	EventType    string    `json:"event_type"`
	Account      string    `json:"account"`
	Counterparty *string   `json:"counterparty,omitempty"`
	Asset        *string   `json:"asset,omitempty"`
	Amount       string    `json:"amount"`
	DebtCovered  *string   `json:"debt_covered,omitempty"`
	HealthFactor *string   `json:"health_factor,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
