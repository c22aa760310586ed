package domain

import "time"

// Side indicates whether an order buys or sells the base currency.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeResult is the outcome of one order leg. It is immutable once created;
// failed legs carry a human-readable ErrorMessage.
type TradeResult struct {
	ID              string
	VenueID         string
	Pair            TradingPair
	Side            Side
	RequestedQty    float64
	ExecutedQty     float64
	ExecutedPrice   float64
	Fee             float64
	ExecutionTimeMs int64
	IsSuccess       bool
	ErrorMessage    string
	ExecutedAt      time.Time
}

// Notional returns the executed price times executed quantity.
func (r TradeResult) Notional() float64 {
	return r.ExecutedPrice * r.ExecutedQty
}

// ArbitrageTradeResult pairs an opportunity with both leg results and the
// realized outcome. Write-once record handed to the persistence collaborator.
type ArbitrageTradeResult struct {
	Opportunity ArbitrageOpportunity
	BuyResult   *TradeResult
	SellResult  *TradeResult

	// RealizedProfit = sell proceeds - buy cost - both legs' fees. May differ
	// from the pre-trade estimate due to slippage.
	RealizedProfit float64
	IsSuccess      bool
	CompletedAt    time.Time
}
