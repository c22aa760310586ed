package domain

import "time"

// PriceLevel is a single price+quantity entry on one side of an order book.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// PriceQuote is an immutable best-bid/best-ask snapshot derived from one
// venue's order book for one trading pair.
type PriceQuote struct {
	VenueID    string
	Pair       TradingPair
	BestBid    float64
	BestBidQty float64
	BestAsk    float64
	BestAskQty float64
	Timestamp  time.Time

	// IsRealTime is false when the quote is older than the aggregator's
	// freshness threshold. Stale quotes are still served so consumers can
	// decide to discount them.
	IsRealTime bool
}

// Spread returns ask minus bid.
func (q PriceQuote) Spread() float64 {
	return q.BestAsk - q.BestBid
}

// SpreadPct returns the spread as a percentage of the bid, or 0 when the
// bid is not positive.
func (q PriceQuote) SpreadPct() float64 {
	if q.BestBid <= 0 {
		return 0
	}
	return q.Spread() / q.BestBid * 100
}

// Age returns how old the quote is relative to now.
func (q PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}
