package domain

import (
	"context"
	"time"
)

// TradeExecutionClient places a market order on one venue. Implemented by a
// real venue adapter or by the paper trading simulator.
type TradeExecutionClient interface {
	// PlaceMarketOrder executes a market order and returns the leg result.
	// Venue faults and timeouts surface as a failed TradeResult, not an
	// error; the error return is reserved for programming/transport faults
	// where no result could be produced at all.
	PlaceMarketOrder(ctx context.Context, venueID string, pair TradingPair, side Side, qty float64) (TradeResult, error)
}

// BookUpdate is one normalized order book message from a venue feed. Snapshot
// messages replace both sides; delta messages adjust a single level (quantity
// <= 0 removes it).
type BookUpdate struct {
	VenueID  string
	Pair     TradingPair
	Snapshot bool
	Bids     []PriceLevel
	Asks     []PriceLevel
	Side     Side    // delta only
	Price    float64 // delta only
	Quantity float64 // delta only
	At       time.Time
}

// VenueFeed streams normalized order book updates for one venue and offers a
// REST poll fallback. Subscribe blocks until ctx is cancelled or the stream
// fails; each adapter is responsible for normalizing its venue's wire format.
type VenueFeed interface {
	VenueID() string
	Subscribe(ctx context.Context, pairs []TradingPair, out chan<- BookUpdate) error
	FetchOrderBook(ctx context.Context, pair TradingPair) (BookUpdate, error)
}

// OpportunityRepository persists detections and executions. The core calls
// the save methods after each detection/execution and never depends on query
// results for its own logic.
type OpportunityRepository interface {
	SaveOpportunity(ctx context.Context, opp ArbitrageOpportunity) error
	SaveTradeResult(ctx context.Context, res ArbitrageTradeResult) error
	QueryByTimeRange(ctx context.Context, start, end time.Time) ([]ArbitrageOpportunity, error)
}

// RiskProfileSource serves the current risk profile. Snapshot semantics:
// callers read once per decision and the source may refresh underneath
// without a restart.
type RiskProfileSource interface {
	Current() RiskProfile
}

// QuoteCache mirrors latest quotes for external (out-of-process) readers.
// Failures are the caller's to log; the core never blocks on it.
type QuoteCache interface {
	SetQuote(ctx context.Context, q PriceQuote) error
	GetQuote(ctx context.Context, venueID string, pair TradingPair) (PriceQuote, error)
}
