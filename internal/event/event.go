package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Type discriminates the engine operations recorded in the event log.
type Type int32

const (
	TypeUnknown Type = iota
	TypeCollateralDeposited
	TypeCollateralRedeemed
	TypeDebtMinted
	TypeDebtBurned
	TypeLiquidation
)

func (t Type) String() string {
	switch t {
	case TypeCollateralDeposited:
		return "CollateralDeposited"
	case TypeCollateralRedeemed:
		return "CollateralRedeemed"
	case TypeDebtMinted:
		return "DebtMinted"
	case TypeDebtBurned:
		return "DebtBurned"
	case TypeLiquidation:
		return "Liquidation"
	default:
		return "Unknown"
	}
}

// Envelope records one successful engine operation. Failed operations leave
// no trace — the engine is all-or-nothing and only commits emit.
type Envelope struct {
	// OperationID is assigned by the engine and doubles as the idempotency
	// key for persistence and outbound publishing.
	OperationID uuid.UUID

	Type    Type
	Account uuid.UUID

	// Counterparty is the liquidator on liquidation events, nil otherwise.
	Counterparty *uuid.UUID

	// Asset is the collateral symbol; empty for pure debt operations.
	Asset string

	// Amount is the collateral quantity moved, or the debt amount for
	// mint/burn events (18-decimal fixed point).
	Amount *big.Int

	// DebtCovered is set on liquidation events.
	DebtCovered *big.Int

	// HealthFactor is the account's score after the operation, when the
	// operation computed one (nil for deposits).
	HealthFactor *big.Int

	Timestamp time.Time
}

func (e *Envelope) IdempotencyKey() string {
	return e.OperationID.String()
}
