package engine

import (
	"math/big"

	fpmath "StableVault/internal/math"
)

// Global risk parameters. Every collateral asset shares one liquidation
// threshold and bonus — there is no per-asset risk model.
const (
	// LiquidationThreshold is the percentage of nominal collateral value
	// counted toward solvency. 50% is equivalent to requiring 200%
	// collateralization.
	LiquidationThreshold = 50

	// LiquidationBonus is the extra collateral percentage paid to a
	// liquidator on top of the debt-equivalent amount.
	LiquidationBonus = 10

	LiquidationPrecision = 100
)

var (
	// MinHealthFactor is 1.0 in 18-decimal fixed point. Scores below it
	// mark an account as liquidatable.
	MinHealthFactor = new(big.Int).Set(fpmath.WadScale)

	// MaxHealthFactor is the sentinel score for debt-free accounts
	// (2^256 - 1, the conventional unsigned maximum).
	MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Params is the read-only constant surface exposed to external risk
// monitors so liquidator bots can reproduce the engine's arithmetic.
type Params struct {
	LiquidationThreshold int64
	LiquidationBonus     int64
	LiquidationPrecision int64
	MinHealthFactor      *big.Int
}

func DefaultParams() Params {
	return Params{
		LiquidationThreshold: LiquidationThreshold,
		LiquidationBonus:     LiquidationBonus,
		LiquidationPrecision: LiquidationPrecision,
		MinHealthFactor:      new(big.Int).Set(MinHealthFactor),
	}
}
