// Package notify alerts operators about trading activity over external
// channels (Telegram, Discord). The Notifier consumes bus events, formats
// them, and fans out to every configured sender.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openarb/arbot/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier, e.g. "telegram".
	Name() string
}

// Notifier formats bus events and dispatches them to all senders. An event
// type filter limits which events produce alerts; an empty filter allows
// everything. Implements the event bus Sink contract.
type Notifier struct {
	senders []Sender
	allowed map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only event
// types listed in allow are forwarded; an empty allow list forwards all.
func NewNotifier(senders []Sender, allow []domain.EventType, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(allow))
	for _, t := range allow {
		allowed[t] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Name identifies the sink in bus logs.
func (n *Notifier) Name() string { return "notifier" }

// Handle formats the event and dispatches it. Filtered events and events
// with nothing to render are silently dropped.
func (n *Notifier) Handle(ctx context.Context, ev domain.Event) error {
	if len(n.allowed) > 0 && !n.allowed[ev.Type] {
		return nil
	}
	title, message, ok := format(ev)
	if !ok {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender; one sender's failure does not prevent
// delivery to the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func format(ev domain.Event) (title, message string, ok bool) {
	switch ev.Type {
	case domain.EventOpportunityDetected:
		if ev.Opportunity == nil {
			return "", "", false
		}
		o := ev.Opportunity
		return "Arbitrage opportunity",
			fmt.Sprintf("%s: buy %s @ %.2f, sell %s @ %.2f, qty %.6f, est. profit %.4f%%",
				o.Pair, o.BuyVenue, o.BuyPrice, o.SellVenue, o.SellPrice, o.EffectiveQty, o.ProfitPct),
			true
	case domain.EventTradeExecuted:
		if ev.Result == nil {
			return "", "", false
		}
		r := ev.Result
		return "Trade executed",
			fmt.Sprintf("%s: %s -> %s, realized profit %.2f %s",
				r.Opportunity.Pair, r.Opportunity.BuyVenue, r.Opportunity.SellVenue,
				r.RealizedProfit, r.Opportunity.Pair.Quote),
			true
	case domain.EventTradeFailed:
		if ev.Result == nil {
			return "", "", false
		}
		r := ev.Result
		return "Trade failed",
			fmt.Sprintf("%s: %s -> %s: %s",
				r.Opportunity.Pair, r.Opportunity.BuyVenue, r.Opportunity.SellVenue,
				r.Opportunity.Reason),
			true
	default:
		return "", "", false
	}
}
