package engine

import (
	"math/big"

	fpmath "StableVault/internal/math"
)

// HealthFactor returns the solvency score for a debt/collateral-value pair,
// 18-decimal fixed point. A score >= 1e18 means solvent.
//
// Zero debt is maximally healthy: the sentinel avoids dividing by zero and
// makes debt-free accounts unliquidatable by construction. Otherwise only
// LiquidationThreshold percent of nominal collateral value counts:
//
//	score = (collateralValueUsd * 50 / 100) * 1e18 / totalDebt
//
// Pure function — exposed so liquidator bots can simulate eligibility
// without touching engine state.
func HealthFactor(totalDebt, collateralValueUsd *big.Int) *big.Int {
	if totalDebt == nil || totalDebt.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor)
	}

	adjusted := fpmath.MulFrac(collateralValueUsd, LiquidationThreshold, LiquidationPrecision, fpmath.RoundDown)
	return fpmath.MulDiv(adjusted, fpmath.WadScale, totalDebt, fpmath.RoundDown)
}
