package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParsePair(t *testing.T) {
	tests := []struct {
		in   string
		want TradingPair
	}{
		{"BTC/USDT", TradingPair{Base: "BTC", Quote: "USDT"}},
		{"btc/usdt", TradingPair{Base: "BTC", Quote: "USDT"}},
		{"ETH-USD", TradingPair{Base: "ETH", Quote: "USD"}},
		{" sol / usdc ", TradingPair{Base: "SOL", Quote: "USDC"}},
		{"BTCUSDT", TradingPair{}},
		{"", TradingPair{}},
	}
	for _, tt := range tests {
		got := ParsePair(tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestTradingPairString(t *testing.T) {
	p := NewTradingPair("btc", "usdt")
	assert.Equal(t, "BTC/USDT", p.String())
	assert.False(t, p.IsZero())
	assert.True(t, TradingPair{}.IsZero())
	assert.True(t, TradingPair{Base: "BTC"}.IsZero())
}

func TestPriceQuoteSpread(t *testing.T) {
	q := PriceQuote{BestBid: 50000, BestAsk: 50250}
	assert.InDelta(t, 250, q.Spread(), 1e-9)
	assert.InDelta(t, 0.5, q.SpreadPct(), 1e-9)

	// Non-positive bid yields zero percentage instead of dividing by zero.
	assert.Equal(t, 0.0, PriceQuote{BestBid: 0, BestAsk: 10}.SpreadPct())
}

func TestPriceQuoteAge(t *testing.T) {
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	q := PriceQuote{Timestamp: ts}
	assert.Equal(t, 5*time.Second, q.Age(ts.Add(5*time.Second)))
}

func TestTradeResultNotional(t *testing.T) {
	r := TradeResult{ExecutedPrice: 50010, ExecutedQty: 0.02}
	assert.InDelta(t, 1000.2, r.Notional(), 1e-9)
	assert.Equal(t, 0.0, TradeResult{}.Notional())
}

func TestBalanceAccounting(t *testing.T) {
	b := Balance{Currency: "USDT", Total: 1000, Available: 1000}

	b.Reserve(400)
	assert.InDelta(t, 600, b.Available, 1e-9)
	assert.InDelta(t, 400, b.Reserved, 1e-9)
	assert.InDelta(t, 1000, b.Total, 1e-9)

	b.Settle(400)
	assert.InDelta(t, 0, b.Reserved, 1e-9)
	assert.InDelta(t, 600, b.Total, 1e-9)

	b.Credit(150)
	assert.InDelta(t, 750, b.Available, 1e-9)
	assert.InDelta(t, 750, b.Total, 1e-9)
}

func TestBalanceRelease(t *testing.T) {
	b := Balance{Currency: "USDT", Total: 1000, Available: 1000}
	b.Reserve(300)
	b.Release(300)
	assert.InDelta(t, 1000, b.Available, 1e-9)
	assert.InDelta(t, 0, b.Reserved, 1e-9)
}
