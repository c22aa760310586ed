package domain

import (
	"fmt"
	"time"
)

// OpportunityStatus tracks the lifecycle of an arbitrage opportunity.
// Executed and Failed are terminal.
type OpportunityStatus string

const (
	OpportunityDetected  OpportunityStatus = "detected"
	OpportunityExecuting OpportunityStatus = "executing"
	OpportunityExecuted  OpportunityStatus = "executed"
	OpportunityFailed    OpportunityStatus = "failed"
)

// ArbitrageOpportunity is one cross-venue price discrepancy: buy on BuyVenue
// at BuyPrice, sell on SellVenue at SellPrice. It is created by the detector
// and mutated only through status transitions by its single owner.
type ArbitrageOpportunity struct {
	ID        string
	Pair      TradingPair
	BuyVenue  string
	SellVenue string

	BuyPrice  float64
	SellPrice float64
	BuyQty    float64 // quantity available at the buy venue's best ask
	SellQty   float64 // quantity available at the sell venue's best bid

	// EffectiveQty is min(BuyQty, SellQty) further capped by the risk
	// profile's max trade amount.
	EffectiveQty float64

	Spread          float64
	SpreadPct       float64
	EstimatedProfit float64
	ProfitAfterFees float64
	ProfitPct       float64

	DetectedAt time.Time
	Status     OpportunityStatus

	// Reason carries a human-readable explanation when Status is failed.
	Reason string
}

// Identity returns the execution-dedup key: at most one execution attempt may
// be in flight per identity at any time.
func (o ArbitrageOpportunity) Identity() string {
	return fmt.Sprintf("%s|%s|%s|%d",
		o.Pair, o.BuyVenue, o.SellVenue, o.DetectedAt.UnixNano())
}

// Notional returns the buy-leg notional value at the effective quantity.
func (o ArbitrageOpportunity) Notional() float64 {
	return o.BuyPrice * o.EffectiveQty
}

// Terminal reports whether the opportunity has reached a final status.
func (o ArbitrageOpportunity) Terminal() bool {
	return o.Status == OpportunityExecuted || o.Status == OpportunityFailed
}
