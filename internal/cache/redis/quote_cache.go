package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openarb/arbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// quoteTTL bounds how long a mirrored quote outlives its last refresh, so
// external readers never see quotes from a long-dead feed.
const quoteTTL = 30 * time.Second

// QuoteCache implements domain.QuoteCache. The latest quote per (venue,
// pair) is stored as JSON at "quote:{venue}:{pair}" with a TTL.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(venueID string, pair domain.TradingPair) string {
	return fmt.Sprintf("quote:%s:%s", venueID, pair)
}

// SetQuote stores the latest quote, refreshing the TTL.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: marshal quote: %w", err)
	}
	key := quoteKey(q.VenueID, q.Pair)
	if err := qc.rdb.Set(ctx, key, payload, quoteTTL).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", key, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a (venue, pair). It returns
// domain.ErrNotFound when no quote is cached or the TTL has expired.
func (qc *QuoteCache) GetQuote(ctx context.Context, venueID string, pair domain.TradingPair) (domain.PriceQuote, error) {
	key := quoteKey(venueID, pair)
	payload, err := qc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PriceQuote{}, domain.ErrNotFound
		}
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", key, err)
	}
	var q domain.PriceQuote
	if err := json.Unmarshal(payload, &q); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: unmarshal quote %s: %w", key, err)
	}
	return q, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
