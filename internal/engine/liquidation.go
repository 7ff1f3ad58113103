package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"StableVault/internal/event"
	"StableVault/internal/ledger"
	fpmath "StableVault/internal/math"
)

// Liquidate lets a third party repay part of an insolvent account's debt in
// exchange for a discounted slice of its collateral. The liquidator covers
// debtToCover liability units and receives the USD-equivalent amount of
// collateralAsset plus a bonus.
//
// The collateral is priced at the live quote, so the payout floats with the
// market. Both accounts are re-checked after the seizure: the target must end
// up strictly healthier, and the liquidator must not have broken their own
// position by spending the liability asset.
func (e *Engine) Liquidate(ctx context.Context, liquidator, target uuid.UUID, collateralAsset string, debtToCover *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instrument("liquidate", func() error {
		return e.liquidate(ctx, liquidator, target, collateralAsset, debtToCover)
	})
}

func (e *Engine) liquidate(ctx context.Context, liquidator, target uuid.UUID, collateralAsset string, debtToCover *big.Int) error {
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return ledger.ErrZeroAmount
	}
	asset, ok := e.ledger.Lookup(collateralAsset)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrUnsupportedAsset, collateralAsset)
	}
	if debt := e.ledger.Debt(target); debt.Cmp(debtToCover) < 0 {
		return fmt.Errorf("%w: target owes %s, cover requested %s",
			ledger.ErrInsufficientDebt, debt, debtToCover)
	}

	startingHF, err := e.healthFactorOf(ctx, target)
	if err != nil {
		return err
	}
	if startingHF.Cmp(MinHealthFactor) >= 0 {
		return &HealthFactorOkError{Score: startingHF}
	}

	// Payout: debt-equivalent collateral at the live quote, plus the bonus.
	base, err := e.valuation.AssetAmountFromUsd(ctx, asset.FeedID, debtToCover)
	if err != nil {
		e.countOracleFailure(err)
		return err
	}
	bonus := fpmath.MulFrac(base, LiquidationBonus, LiquidationPrecision, fpmath.RoundDown)
	seized := new(big.Int).Add(base, bonus)

	// Bookkeeping first. RecordWithdrawal rejects a seizure larger than the
	// target's balance in this asset, which also caps the payout.
	if err := e.ledger.RecordWithdrawal(target, collateralAsset, seized); err != nil {
		return err
	}
	if err := e.ledger.RecordBurn(target, debtToCover); err != nil {
		e.mustRevert(e.ledger.RecordDeposit(target, collateralAsset, seized))
		return err
	}

	revert := func() {
		e.mustRevert(e.ledger.RecordMint(target, debtToCover))
		e.mustRevert(e.ledger.RecordDeposit(target, collateralAsset, seized))
	}

	endingHF, err := e.healthFactorOf(ctx, target)
	if err != nil {
		revert()
		return err
	}
	if endingHF.Cmp(startingHF) <= 0 {
		revert()
		return &HealthFactorNotImprovedError{Starting: startingHF, Ending: endingHF}
	}

	liqHF, err := e.healthFactorOf(ctx, liquidator)
	if err != nil {
		revert()
		return err
	}
	if liqHF.Cmp(MinHealthFactor) < 0 {
		revert()
		return &HealthFactorError{Score: liqHF}
	}

	// External movements last: pull the liquidator's repayment, destroy it,
	// then pay out the seized collateral.
	ok, err = e.issuer.TransferFrom(ctx, liquidator, e.engineID, debtToCover)
	if err != nil || !ok {
		revert()
		if err != nil {
			return fmt.Errorf("%w: pulling %s liability units from liquidator: %v", ErrTransferFailed, debtToCover, err)
		}
		return fmt.Errorf("%w: pulling %s liability units from liquidator", ErrTransferFailed, debtToCover)
	}
	if err := e.issuer.Burn(ctx, debtToCover); err != nil {
		e.refundStable(ctx, liquidator, debtToCover)
		revert()
		return fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}

	if ok, err := e.bank.TransferTo(ctx, collateralAsset, liquidator, seized); err != nil || !ok {
		// The repayment is already burned. Restore the liquidator and the
		// target to their starting positions before reporting failure.
		if mintOK, merr := e.issuer.Mint(ctx, liquidator, debtToCover); merr != nil || !mintOK {
			panic(fmt.Sprintf("FATAL: cannot re-mint %s while unwinding liquidation: ok=%v err=%v",
				debtToCover, mintOK, merr))
		}
		revert()
		if err != nil {
			return fmt.Errorf("%w: paying out %s %s: %v", ErrTransferFailed, seized, collateralAsset, err)
		}
		return fmt.Errorf("%w: paying out %s %s", ErrTransferFailed, seized, collateralAsset)
	}

	if e.metrics != nil {
		e.metrics.LiquidationsExecuted.Inc()
		e.metrics.LiquidationDebt.Add(wholeUnits(debtToCover))
		e.metrics.CollateralSeized.WithLabelValues(collateralAsset).Add(wholeUnits(seized))
	}
	e.log.Info().
		Str("target", target.String()).
		Str("liquidator", liquidator.String()).
		Str("asset", collateralAsset).
		Str("debt_covered", debtToCover.String()).
		Str("collateral_seized", seized.String()).
		Str("health_factor", endingHF.String()).
		Msg("liquidation executed")

	liq := liquidator
	e.emit(event.Envelope{
		OperationID:  uuid.New(),
		Type:         event.TypeLiquidation,
		Account:      target,
		Counterparty: &liq,
		Asset:        collateralAsset,
		Amount:       seized,
		DebtCovered:  new(big.Int).Set(debtToCover),
		HealthFactor: endingHF,
		Timestamp:    e.now(),
	})
	return nil
}

// wholeUnits converts an 18-decimal amount to whole units for counters.
func wholeUnits(amount *big.Int) float64 {
	units := new(big.Int).Quo(amount, fpmath.WadScale)
	f, _ := new(big.Float).SetInt(units).Float64()
	return f
}
