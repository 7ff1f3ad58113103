package math

import (
	"math/big"
	"sync"
)

// Fixed-point scales used across the engine. Ledger amounts, debt, and USD
// values are 18-decimal fixed point ("wad"); oracle quotes arrive at
// 8 decimals and are normalized up by FeedPrecisionGap before use.
var (
	WadScale         = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	OracleScale      = big.NewInt(100_000_000)    // 1e8
	FeedPrecisionGap = big.NewInt(10_000_000_000) // 1e10 = WadScale / OracleScale
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota // truncate toward zero (default, matches ledger semantics)
	RoundHalfEven
	RoundUp
)

// bigPool recycles big.Int intermediates in the hot valuation path.
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// MulDiv computes a * b / denom at full precision. All inputs must be
// non-negative; denom must be non-zero (callers guard prices before division).
func MulDiv(a, b, denom *big.Int, mode RoundingMode) *big.Int {
	prod := getBig()
	prod.Mul(a, b)

	quo := new(big.Int)
	rem := getBig()
	quo.QuoRem(prod, denom, rem)

	applyRounding(quo, rem, denom, mode)

	putBig(prod)
	putBig(rem)
	return quo
}

// MulFrac computes a * num / denom for small integer fractions such as the
// liquidation threshold and bonus percentages.
func MulFrac(a *big.Int, num, denom int64, mode RoundingMode) *big.Int {
	prod := getBig()
	prod.Mul(a, big.NewInt(num))

	quo := new(big.Int)
	rem := getBig()
	quo.QuoRem(prod, big.NewInt(denom), rem)

	applyRounding(quo, rem, big.NewInt(denom), mode)

	putBig(prod)
	putBig(rem)
	return quo
}

func applyRounding(quo, rem, denom *big.Int, mode RoundingMode) {
	if rem.Sign() == 0 {
		return
	}

	switch mode {
	case RoundUp:
		quo.Add(quo, oneInt)

	case RoundHalfEven:
		// Compare 2*rem against denom without mutating rem's pooled storage.
		doubled := getBig()
		doubled.Lsh(rem, 1)
		cmp := doubled.Cmp(denom)
		putBig(doubled)

		if cmp > 0 {
			quo.Add(quo, oneInt)
		} else if cmp == 0 && quo.Bit(0) == 1 {
			quo.Add(quo, oneInt)
		}
	}
}

var oneInt = big.NewInt(1)

// Wad returns n * 1e18 as a fresh big.Int. Test and construction helper.
func Wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), WadScale)
}
