package venue

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openarb/arbot/internal/domain"
)

func TestSymbolMapping(t *testing.T) {
	pair := domain.NewTradingPair("BTC", "USDT")
	assert.Equal(t, "btcusdt", binanceSymbol(pair))
	assert.Equal(t, "BTC-USDT", coinbaseProduct(pair))
}

func TestBinanceDispatchNormalizesDeltas(t *testing.T) {
	f := NewBinanceFeed("binance", "ws://unused", "http://unused", nil, slog.Default())
	pair := domain.NewTradingPair("BTC", "USDT")
	symbolPair := map[string]domain.TradingPair{"BTCUSDT": pair}

	raw := []byte(`{"e":"depthUpdate","s":"BTCUSDT","E":1700000000000,` +
		`"b":[["50000.10","0.5"],["49999.00","0"]],"a":[["50001.20","1.25"]]}`)

	out := make(chan domain.BookUpdate, 8)
	f.dispatch(context.Background(), raw, symbolPair, out)
	close(out)

	var updates []domain.BookUpdate
	for u := range out {
		updates = append(updates, u)
	}
	require.Len(t, updates, 3)

	assert.Equal(t, domain.SideBuy, updates[0].Side)
	assert.Equal(t, 50000.10, updates[0].Price)
	assert.Equal(t, 0.5, updates[0].Quantity)

	// Zero quantity passes through as a removal delta.
	assert.Equal(t, 0.0, updates[1].Quantity)

	assert.Equal(t, domain.SideSell, updates[2].Side)
	assert.Equal(t, 50001.20, updates[2].Price)

	for _, u := range updates {
		assert.Equal(t, "binance", u.VenueID)
		assert.Equal(t, pair, u.Pair)
		assert.Equal(t, time.UnixMilli(1700000000000), u.At)
	}
}

func TestBinanceDispatchDropsMalformed(t *testing.T) {
	f := NewBinanceFeed("binance", "ws://unused", "http://unused", nil, slog.Default())
	pair := domain.NewTradingPair("BTC", "USDT")
	symbolPair := map[string]domain.TradingPair{"BTCUSDT": pair}
	out := make(chan domain.BookUpdate, 8)

	// Not JSON at all.
	f.dispatch(context.Background(), []byte(`{broken`), symbolPair, out)
	// Wrong event type (subscription ack).
	f.dispatch(context.Background(), []byte(`{"result":null,"id":1}`), symbolPair, out)
	// Unknown symbol.
	f.dispatch(context.Background(), []byte(
		`{"e":"depthUpdate","s":"ETHUSDT","E":1,"b":[["1","1"]],"a":[]}`), symbolPair, out)
	// Unparsable level mixed with a good one.
	f.dispatch(context.Background(), []byte(
		`{"e":"depthUpdate","s":"BTCUSDT","E":1,"b":[["abc","1"],["100","1"]],"a":[]}`), symbolPair, out)
	close(out)

	var updates []domain.BookUpdate
	for u := range out {
		updates = append(updates, u)
	}
	require.Len(t, updates, 1)
	assert.Equal(t, 100.0, updates[0].Price)
}

func TestBinanceFetchOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/depth", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		json.NewEncoder(w).Encode(map[string]any{
			"lastUpdateId": 42,
			"bids":         [][]string{{"50000", "0.5"}, {"bad", "x"}},
			"asks":         [][]string{{"50010", "1.0"}},
		})
	}))
	defer srv.Close()

	f := NewBinanceFeed("binance", "ws://unused", srv.URL, nil, slog.Default())
	snap, err := f.FetchOrderBook(context.Background(), domain.NewTradingPair("BTC", "USDT"))
	require.NoError(t, err)

	assert.True(t, snap.Snapshot)
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, 50000.0, snap.Bids[0].Price)
	assert.Equal(t, 50010.0, snap.Asks[0].Price)
}

func TestBinanceFetchOrderBookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewBinanceFeed("binance", "ws://unused", srv.URL, nil, slog.Default())
	_, err := f.FetchOrderBook(context.Background(), domain.NewTradingPair("BTC", "USDT"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestCoinbaseDispatchSnapshotAndUpdate(t *testing.T) {
	f := NewCoinbaseFeed("coinbase", "ws://unused", "http://unused", nil, slog.Default())
	pair := domain.NewTradingPair("BTC", "USD")
	productPair := map[string]domain.TradingPair{"BTC-USD": pair}
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	out := make(chan domain.BookUpdate, 8)
	f.dispatch(context.Background(), coinbaseMessage{
		Type:      "snapshot",
		ProductID: "BTC-USD",
		Bids:      [][2]string{{"50000", "0.5"}},
		Asks:      [][2]string{{"50010", "1.0"}},
		Time:      at,
	}, productPair, out)

	f.dispatch(context.Background(), coinbaseMessage{
		Type:      "l2update",
		ProductID: "BTC-USD",
		Changes:   [][3]string{{"buy", "49990", "2"}, {"hold", "1", "1"}, {"sell", "50020", "0"}},
		Time:      at,
	}, productPair, out)
	close(out)

	var updates []domain.BookUpdate
	for u := range out {
		updates = append(updates, u)
	}
	require.Len(t, updates, 3)

	assert.True(t, updates[0].Snapshot)
	require.Len(t, updates[0].Bids, 1)
	assert.Equal(t, at, updates[0].At)

	assert.Equal(t, domain.SideBuy, updates[1].Side)
	assert.Equal(t, 49990.0, updates[1].Price)
	assert.Equal(t, domain.SideSell, updates[2].Side)
	assert.Equal(t, 0.0, updates[2].Quantity)
}

func TestCoinbaseDispatchIgnoresUnknownProduct(t *testing.T) {
	f := NewCoinbaseFeed("coinbase", "ws://unused", "http://unused", nil, slog.Default())
	out := make(chan domain.BookUpdate, 1)
	f.dispatch(context.Background(), coinbaseMessage{
		Type:      "snapshot",
		ProductID: "ETH-USD",
		Bids:      [][2]string{{"1", "1"}},
	}, map[string]domain.TradingPair{}, out)
	close(out)
	assert.Empty(t, out)
}

func TestHMACAuthSigning(t *testing.T) {
	auth := &HMACAuth{Key: "api-key", Secret: "topsecret"}

	h1 := auth.SignedHeadersAt(http.MethodPost, "/orders", `{"qty":1}`, 1700000000)
	h2 := auth.SignedHeadersAt(http.MethodPost, "/orders", `{"qty":1}`, 1700000000)
	h3 := auth.SignedHeadersAt(http.MethodPost, "/orders", `{"qty":2}`, 1700000000)

	assert.Equal(t, "api-key", h1["X-API-KEY"])
	assert.Equal(t, "1700000000", h1["X-API-TIMESTAMP"])
	assert.Equal(t, h1["X-API-SIGNATURE"], h2["X-API-SIGNATURE"])
	assert.NotEqual(t, h1["X-API-SIGNATURE"], h3["X-API-SIGNATURE"])
	assert.Len(t, h1["X-API-SIGNATURE"], 64)
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "api-key-123", Secret: "sec"}
	s := auth.String()
	assert.NotContains(t, s, "api-key-123")
	assert.NotContains(t, s, "sec}")
	assert.Contains(t, s, "api-****")
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	feed := NewBinanceFeed("binance", "ws://unused", "http://unused", nil, slog.Default())
	r.Register("binance", Entry{Feed: feed})

	got, err := r.Feed("binance")
	require.NoError(t, err)
	assert.Equal(t, "binance", got.VenueID())

	_, err = r.Feed("kraken")
	assert.ErrorIs(t, err, domain.ErrVenueUnknown)

	_, err = r.Exec("binance")
	assert.Error(t, err)

	assert.Equal(t, []string{"binance"}, r.List())
}
