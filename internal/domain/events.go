package domain

import "time"

// EventType classifies outbound core events.
type EventType string

const (
	EventOpportunityDetected EventType = "opportunity_detected"
	EventTradeExecuted       EventType = "trade_executed"
	EventTradeFailed         EventType = "trade_failed"
)

// Event is one fire-and-forget outbound notification. Exactly one of
// Opportunity/Result is set depending on Type; delivery is at-most-once and a
// subscriber failure never affects core state.
type Event struct {
	Type        EventType
	Opportunity *ArbitrageOpportunity
	Result      *ArbitrageTradeResult
	Reason      string
	At          time.Time
}
