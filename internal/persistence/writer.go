package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"StableVault/internal/event"
)

// OperationLogWriter writes committed engine operations to Postgres using
// multi-row INSERT. Writes are idempotent on operation_id, so a replayed
// batch after a crash is harmless.
type OperationLogWriter struct {
	db *sql.DB
}

// OperationRow represents a row in vault.operations. Amounts are stored as
// NUMERIC(78,0) and travel as decimal strings.
type OperationRow struct {
	OperationID  string
	EventType    string
	Account      string
	Counterparty *string
	Asset        *string
	Amount       string
	DebtCovered  *string
	HealthFactor *string
	Timestamp    time.Time
}

// RowFromEnvelope flattens an engine event envelope into its storage row.
func RowFromEnvelope(env event.Envelope) OperationRow {
	row := OperationRow{
		OperationID: env.OperationID.String(),
		EventType:   env.Type.String(),
		Account:     env.Account.String(),
		Amount:      env.Amount.String(),
		Timestamp:   env.Timestamp,
	}
	if env.Counterparty != nil {
		s := env.Counterparty.String()
		row.Counterparty = &s
	}
	if env.Asset != "" {
		s := env.Asset
		row.Asset = &s
	}
	if env.DebtCovered != nil {
		s := env.DebtCovered.String()
		row.DebtCovered = &s
	}
	if env.HealthFactor != nil {
		s := env.HealthFactor.String()
		row.HealthFactor = &s
	}
	return row
}

func NewOperationLogWriter(db *sql.DB) *OperationLogWriter {
	return &OperationLogWriter{db: db}
}

// WriteBatch writes a batch of rows inside the given transaction.
func (w *OperationLogWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []OperationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO vault.operations
		(operation_id, event_type, account, counterparty, asset, amount, debt_covered, health_factor, ts)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*9)

	for i, r := range rows {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			r.OperationID, r.EventType, r.Account, r.Counterparty,
			r.Asset, r.Amount, r.DebtCovered, r.HealthFactor, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (operation_id) DO NOTHING" // Idempotent writes

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
