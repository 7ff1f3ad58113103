package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultFeedSubjectPrefix is the NATS subject prefix price publishers use.
// Per-feed subjects are {prefix}.{feed_id}, e.g. vault.oracle.prices.ETH-USD.
const DefaultFeedSubjectPrefix = "vault.oracle.prices"

// pricePayload is the wire format published by the oracle adapter.
// The price is a decimal string; feeds quote at 8 decimal places and any
// extra precision is truncated.
type pricePayload struct {
	FeedID    string    `json:"feed_id"`
	Price     string    `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Feed consumes price updates from NATS and serves them as a PriceSource.
// It holds only the most recent quote per feed — staleness is judged by the
// valuation service, not here.
type Feed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	log    zerolog.Logger

	onUpdate func(feedID string) // metrics hook, may be nil
}

func NewFeed(log zerolog.Logger) *Feed {
	return &Feed{
		quotes: make(map[string]Quote),
		log:    log,
	}
}

// OnUpdate registers a callback invoked after every accepted quote.
func (f *Feed) OnUpdate(fn func(feedID string)) {
	f.onUpdate = fn
}

// Subscribe attaches the feed to all price subjects under prefix.
func (f *Feed) Subscribe(nc *nats.Conn, prefix string) (*nats.Subscription, error) {
	subject := prefix + ".>"

	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		feedID, q, err := DecodeQuote(msg.Data)
		if err != nil {
			f.log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed price update")
			return
		}

		f.mu.Lock()
		f.quotes[feedID] = q
		f.mu.Unlock()

		if f.onUpdate != nil {
			f.onUpdate(feedID)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	f.log.Info().Str("subject", subject).Msg("oracle feed subscribed")
	return sub, nil
}

func (f *Feed) LatestPrice(_ context.Context, feedID string) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, ok := f.quotes[feedID]
	if !ok {
		return Quote{}, fmt.Errorf("no quote received yet for feed %s", feedID)
	}
	return q, nil
}

// DecodeQuote parses a price payload into an 8-decimal fixed-point quote.
func DecodeQuote(data []byte) (string, Quote, error) {
	var p pricePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", Quote{}, fmt.Errorf("unmarshal price payload: %w", err)
	}

	if strings.TrimSpace(p.FeedID) == "" {
		return "", Quote{}, fmt.Errorf("price payload missing feed_id")
	}

	d, err := decimal.NewFromString(p.Price)
	if err != nil {
		return "", Quote{}, fmt.Errorf("parse price %q: %w", p.Price, err)
	}

	if p.UpdatedAt.IsZero() {
		return "", Quote{}, fmt.Errorf("price payload for %s missing updated_at", p.FeedID)
	}

	// Shift to 8 decimals; truncate anything finer.
	scaled := d.Shift(8).Truncate(0)

	return p.FeedID, Quote{
		Price:     scaled.BigInt(),
		UpdatedAt: p.UpdatedAt,
	}, nil
}
