package ledger

import (
	"fmt"
	"math/big"
)

// CustodyReader exposes the actual per-asset balance held by the collateral
// custodian, for conservation checks against the bookkeeping.
type CustodyReader interface {
	CustodyBalance(symbol string) *big.Int
}

// InvariantValidator checks bookkeeping invariants.
type InvariantValidator struct {
	ledger  *CollateralLedger
	custody CustodyReader
}

func NewInvariantValidator(ledger *CollateralLedger, custody CustodyReader) *InvariantValidator {
	return &InvariantValidator{
		ledger:  ledger,
		custody: custody,
	}
}

// ValidateConservation verifies that, per asset, the sum of per-account
// deposits equals the balance actually custodied. Bookkeeping alone must
// never create or destroy value.
func (v *InvariantValidator) ValidateConservation() error {
	for _, a := range v.ledger.Assets() {
		booked := v.ledger.TotalDeposited(a.Symbol)
		held := v.custody.CustodyBalance(a.Symbol)
		if booked.Cmp(held) != 0 {
			return fmt.Errorf("conservation broken for %s: booked %s, custodied %s",
				a.Symbol, booked, held)
		}
	}
	return nil
}

// ValidateNonNegative verifies no deposited amount or debt went below zero.
// The record methods guard underflow, so a violation means corrupted state.
func (v *InvariantValidator) ValidateNonNegative() error {
	for account, byAsset := range v.ledger.deposits {
		for symbol, amount := range byAsset {
			if amount.Sign() < 0 {
				return fmt.Errorf("account %s has negative %s collateral: %s", account, symbol, amount)
			}
		}
	}
	for account, debt := range v.ledger.debt {
		if debt.Sign() < 0 {
			return fmt.Errorf("account %s has negative debt: %s", account, debt)
		}
	}
	return nil
}
