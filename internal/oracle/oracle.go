package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// Quote is a single price observation for one feed.
// Price is 8-decimal fixed point (signed — feeds may publish garbage; the
// valuation layer rejects non-positive prices rather than trusting this type).
type Quote struct {
	Price     *big.Int
	UpdatedAt time.Time
}

// PriceSource supplies the latest quote for a feed. Implementations may be
// remote and failing; every returned error is treated as an oracle outage by
// the valuation service.
type PriceSource interface {
	LatestPrice(ctx context.Context, feedID string) (Quote, error)
}

// StaticSource is an in-memory PriceSource for tests and local development.
type StaticSource struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewStaticSource() *StaticSource {
	return &StaticSource{
		quotes: make(map[string]Quote),
	}
}

// SetQuote installs or replaces the quote for a feed.
func (s *StaticSource) SetQuote(feedID string, price *big.Int, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[feedID] = Quote{
		Price:     new(big.Int).Set(price),
		UpdatedAt: updatedAt,
	}
}

// Drop removes a feed, simulating an oracle outage for that asset.
func (s *StaticSource) Drop(feedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quotes, feedID)
}

func (s *StaticSource) LatestPrice(_ context.Context, feedID string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[feedID]
	if !ok {
		return Quote{}, fmt.Errorf("no quote for feed %s", feedID)
	}
	return q, nil
}
