package engine

import (
	"errors"
	"fmt"
	"math/big"

	"StableVault/internal/ledger"
	"StableVault/internal/valuation"
)

var (
	// ErrTransferFailed wraps any failed asset movement — collateral in or
	// out, or pulling the liability asset from a caller.
	ErrTransferFailed = errors.New("asset transfer failed")

	// ErrMintFailed is returned when the issuer reports an unsuccessful
	// mint without erroring.
	ErrMintFailed = errors.New("stable asset mint failed")

	// ErrBurnFailed is returned when the issuer cannot destroy pulled
	// tokens.
	ErrBurnFailed = errors.New("stable asset burn failed")
)

// HealthFactorError reports a solvency violation, carrying the computed
// offending score for diagnostics.
type HealthFactorError struct {
	Score *big.Int
}

func (e *HealthFactorError) Error() string {
	return fmt.Sprintf("health factor broken: %s", e.Score)
}

// HealthFactorOkError rejects liquidation attempts against solvent accounts.
type HealthFactorOkError struct {
	Score *big.Int
}

func (e *HealthFactorOkError) Error() string {
	return fmt.Sprintf("health factor ok, account not liquidatable: %s", e.Score)
}

// HealthFactorNotImprovedError rejects liquidations that leave the target no
// better off — the guard against stale or manipulated quotes making a
// liquidation economically pointless.
type HealthFactorNotImprovedError struct {
	Starting *big.Int
	Ending   *big.Int
}

func (e *HealthFactorNotImprovedError) Error() string {
	return fmt.Sprintf("liquidation did not improve health factor: %s -> %s", e.Starting, e.Ending)
}

// rejectReason maps an operation error to a bounded metrics label.
func rejectReason(err error) string {
	var hfBroken *HealthFactorError
	var hfOk *HealthFactorOkError
	var hfNotImproved *HealthFactorNotImprovedError

	switch {
	case errors.Is(err, ledger.ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ledger.ErrUnsupportedAsset):
		return "unsupported_asset"
	case errors.Is(err, ledger.ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ledger.ErrInsufficientDebt):
		return "insufficient_debt"
	case errors.Is(err, valuation.ErrStalePrice):
		return "stale_price"
	case errors.Is(err, valuation.ErrOracleUnavailable):
		return "oracle_unavailable"
	case errors.Is(err, valuation.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrMintFailed):
		return "mint_failed"
	case errors.Is(err, ErrBurnFailed):
		return "burn_failed"
	case errors.As(err, &hfBroken):
		return "health_factor_broken"
	case errors.As(err, &hfOk):
		return "health_factor_ok"
	case errors.As(err, &hfNotImproved):
		return "health_factor_not_improved"
	default:
		return "other"
	}
}
