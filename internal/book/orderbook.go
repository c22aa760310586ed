// Package book implements the in-memory order book kept per (venue, pair).
// A book is single-writer: its owning subscription worker applies updates in
// arrival order, and readers take immutable snapshots.
package book

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/openarb/arbot/internal/domain"
)

// OrderBook holds sorted bid/ask price levels for one (venue, pair). Bids are
// kept descending by price, asks ascending, so the best level of each side is
// index 0.
type OrderBook struct {
	venueID string
	pair    domain.TradingPair

	mu         sync.RWMutex
	bids       []domain.PriceLevel // descending by price
	asks       []domain.PriceLevel // ascending by price
	lastUpdate time.Time
}

// New creates an empty order book for the given venue and pair.
func New(venueID string, pair domain.TradingPair) *OrderBook {
	return &OrderBook{venueID: venueID, pair: pair}
}

// VenueID returns the owning venue identifier.
func (b *OrderBook) VenueID() string { return b.venueID }

// Pair returns the trading pair this book tracks.
func (b *OrderBook) Pair() domain.TradingPair { return b.pair }

// ApplySnapshot atomically replaces both sides. Levels with non-positive
// quantity are dropped; the inputs are copied and re-sorted so callers may
// pass venue payloads in any order.
func (b *OrderBook) ApplySnapshot(bids, asks []domain.PriceLevel, at time.Time) {
	nb := make([]domain.PriceLevel, 0, len(bids))
	for _, l := range bids {
		if l.Quantity > 0 && l.Price > 0 {
			nb = append(nb, l)
		}
	}
	na := make([]domain.PriceLevel, 0, len(asks))
	for _, l := range asks {
		if l.Quantity > 0 && l.Price > 0 {
			na = append(na, l)
		}
	}
	sort.Slice(nb, func(i, j int) bool { return nb[i].Price > nb[j].Price })
	sort.Slice(na, func(i, j int) bool { return na[i].Price < na[j].Price })

	b.mu.Lock()
	b.bids, b.asks = nb, na
	b.lastUpdate = at
	b.mu.Unlock()
}

// ApplyDelta sets the quantity at a price level. A resulting quantity <= 0
// removes the level (idempotently); a new price with positive quantity is
// inserted in sorted position. Duplicate price updates overwrite rather than
// accumulate, matching venue snapshot semantics.
func (b *OrderBook) ApplyDelta(side domain.Side, price, quantity float64, at time.Time) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if side == domain.SideBuy {
		b.bids = applyLevel(b.bids, price, quantity, func(a, bp float64) bool { return a > bp })
	} else {
		b.asks = applyLevel(b.asks, price, quantity, func(a, bp float64) bool { return a < bp })
	}
	b.lastUpdate = at
}

// applyLevel overwrites, inserts, or removes a level in a slice kept sorted
// by the given ordering.
func applyLevel(levels []domain.PriceLevel, price, qty float64, before func(a, b float64) bool) []domain.PriceLevel {
	idx := sort.Search(len(levels), func(i int) bool {
		return !before(levels[i].Price, price)
	})
	exists := idx < len(levels) && levels[idx].Price == price

	if qty <= 0 {
		if exists {
			return append(levels[:idx], levels[idx+1:]...)
		}
		return levels
	}
	if exists {
		levels[idx].Quantity = qty
		return levels
	}
	levels = append(levels, domain.PriceLevel{})
	copy(levels[idx+1:], levels[idx:])
	levels[idx] = domain.PriceLevel{Price: price, Quantity: qty}
	return levels
}

// BestBid returns the top bid level. A missing side yields the zero level
// (price 0) so spread math never divides against garbage.
func (b *OrderBook) BestBid() domain.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 {
		return domain.PriceLevel{}
	}
	return b.bids[0]
}

// BestAsk returns the top ask level, or price +Inf when the side is empty.
func (b *OrderBook) BestAsk() domain.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.asks) == 0 {
		return domain.PriceLevel{Price: math.Inf(1)}
	}
	return b.asks[0]
}

// IsValid reports whether both sides are populated and not crossed
// (best bid strictly below best ask).
func (b *OrderBook) IsValid() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return false
	}
	return b.bids[0].Price < b.asks[0].Price
}

// Quote derives an immutable PriceQuote from the current top of book. The
// second return is false when the book is not in a quotable state (a side
// empty, or bid >= ask).
func (b *OrderBook) Quote() (domain.PriceQuote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 || len(b.asks) == 0 || b.bids[0].Price >= b.asks[0].Price {
		return domain.PriceQuote{}, false
	}
	return domain.PriceQuote{
		VenueID:    b.venueID,
		Pair:       b.pair,
		BestBid:    b.bids[0].Price,
		BestBidQty: b.bids[0].Quantity,
		BestAsk:    b.asks[0].Price,
		BestAskQty: b.asks[0].Quantity,
		Timestamp:  b.lastUpdate,
		IsRealTime: true,
	}, true
}

// VolumeUpTo returns the cumulative quantity at or better than limitPrice:
// bids priced at or above the limit for the buy side, asks at or below for
// the sell side. Used for liquidity-aware sizing.
func (b *OrderBook) VolumeUpTo(side domain.Side, limitPrice float64) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var total float64
	if side == domain.SideBuy {
		for _, l := range b.bids {
			if l.Price < limitPrice {
				break
			}
			total += l.Quantity
		}
		return total
	}
	for _, l := range b.asks {
		if l.Price > limitPrice {
			break
		}
		total += l.Quantity
	}
	return total
}

// Depth returns the number of levels on each side.
func (b *OrderBook) Depth() (bids, asks int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bids), len(b.asks)
}

// Snapshot returns copies of both sides for readers that need more than the
// top of book.
func (b *OrderBook) Snapshot() (bids, asks []domain.PriceLevel, at time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bids = append([]domain.PriceLevel(nil), b.bids...)
	asks = append([]domain.PriceLevel(nil), b.asks...)
	return bids, asks, b.lastUpdate
}

// Clear drops all levels. Called when the owning feed disconnects, because
// the book's contents can no longer be trusted.
func (b *OrderBook) Clear() {
	b.mu.Lock()
	b.bids, b.asks = nil, nil
	b.mu.Unlock()
}

// LastUpdate returns the timestamp of the most recent snapshot or delta.
func (b *OrderBook) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}
