package valuation

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"StableVault/internal/oracle"

	fpmath "StableVault/internal/math"
)

// MaxQuoteAge is the staleness cutoff for oracle quotes. A quote older than
// this fails closed: the engine becomes unusable rather than mispricing.
const MaxQuoteAge = 3 * time.Hour

var (
	ErrOracleUnavailable = errors.New("oracle unavailable")
	ErrStalePrice        = errors.New("stale oracle price")
	ErrInvalidPrice      = errors.New("invalid oracle price")
)

// Service converts between collateral asset quantities and 18-decimal USD
// values using a PriceSource. It has no state beyond the injected source.
type Service struct {
	source oracle.PriceSource
	maxAge time.Duration
	now    func() time.Time
}

func NewService(source oracle.PriceSource) *Service {
	return &Service{
		source: source,
		maxAge: MaxQuoteAge,
		now:    time.Now,
	}
}

// NewServiceWithClock injects a clock for staleness tests.
func NewServiceWithClock(source oracle.PriceSource, now func() time.Time) *Service {
	s := NewService(source)
	s.now = now
	return s
}

// UsdValue returns the 18-decimal USD value of an 18-decimal asset amount:
// price(8dp) normalized to 18dp, times amount, divided by 1e18.
func (s *Service) UsdValue(ctx context.Context, feedID string, amount *big.Int) (*big.Int, error) {
	price, err := s.checkedPrice(ctx, feedID)
	if err != nil {
		return nil, err
	}

	norm := new(big.Int).Mul(price, fpmath.FeedPrecisionGap)
	return fpmath.MulDiv(norm, amount, fpmath.WadScale, fpmath.RoundDown), nil
}

// AssetAmountFromUsd is the inverse conversion: how much of the asset a
// USD-denominated coverage target buys at the current quote.
func (s *Service) AssetAmountFromUsd(ctx context.Context, feedID string, usdAmount *big.Int) (*big.Int, error) {
	price, err := s.checkedPrice(ctx, feedID)
	if err != nil {
		return nil, err
	}

	norm := new(big.Int).Mul(price, fpmath.FeedPrecisionGap)
	return fpmath.MulDiv(usdAmount, fpmath.WadScale, norm, fpmath.RoundDown), nil
}

// checkedPrice fetches the quote and applies the fail-closed policy:
// call errors, stale timestamps, and non-positive prices all reject.
func (s *Service) checkedPrice(ctx context.Context, feedID string) (*big.Int, error) {
	q, err := s.source.LatestPrice(ctx, feedID)
	if err != nil {
		return nil, fmt.Errorf("%w: feed %s: %v", ErrOracleUnavailable, feedID, err)
	}

	if age := s.now().Sub(q.UpdatedAt); age > s.maxAge {
		return nil, fmt.Errorf("%w: feed %s is %s old (max %s)", ErrStalePrice, feedID, age, s.maxAge)
	}

	if q.Price == nil || q.Price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: feed %s quoted %v", ErrInvalidPrice, feedID, q.Price)
	}

	return q.Price, nil
}
