package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openarb/arbot/internal/domain"
)

type fakeSender struct {
	name     string
	err      error
	messages []string
}

func (s *fakeSender) Send(_ context.Context, title, message string) error {
	s.messages = append(s.messages, title+": "+message)
	return s.err
}

func (s *fakeSender) Name() string { return s.name }

func executedEvent() domain.Event {
	result := domain.ArbitrageTradeResult{
		Opportunity: domain.ArbitrageOpportunity{
			Pair:      domain.NewTradingPair("BTC", "USDT"),
			BuyVenue:  "venue-a",
			SellVenue: "venue-b",
		},
		RealizedProfit: 4.2,
		IsSuccess:      true,
	}
	return domain.Event{Type: domain.EventTradeExecuted, Result: &result, At: time.Now()}
}

func TestNotifierFormatsExecutedTrade(t *testing.T) {
	sender := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{sender}, nil, slog.Default())

	require.NoError(t, n.Handle(context.Background(), executedEvent()))

	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0], "Trade executed")
	assert.Contains(t, sender.messages[0], "BTC/USDT")
	assert.Contains(t, sender.messages[0], "4.20")
}

func TestNotifierFiltersEventTypes(t *testing.T) {
	sender := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{sender}, []domain.EventType{domain.EventTradeFailed}, slog.Default())

	require.NoError(t, n.Handle(context.Background(), executedEvent()))
	assert.Empty(t, sender.messages)
}

func TestNotifierContinuesPastFailingSender(t *testing.T) {
	failing := &fakeSender{name: "failing", err: errors.New("unreachable")}
	healthy := &fakeSender{name: "healthy"}
	n := NewNotifier([]Sender{failing, healthy}, nil, slog.Default())

	err := n.Handle(context.Background(), executedEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing")
	assert.Len(t, healthy.messages, 1)
}

func TestNotifierIgnoresMalformedEvent(t *testing.T) {
	sender := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{sender}, nil, slog.Default())

	require.NoError(t, n.Handle(context.Background(), domain.Event{Type: domain.EventTradeExecuted}))
	assert.Empty(t, sender.messages)
}
