package marketdata

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openarb/arbot/internal/domain"
)

var btcUSDT = domain.NewTradingPair("BTC", "USDT")

func testLogger() *slog.Logger { return slog.Default() }

// fakeFeed serves scripted snapshots; Subscribe blocks until ctx is done or
// a scripted failure is due.
type fakeFeed struct {
	venueID    string
	subscribes atomic.Int64
	failOnce   atomic.Bool
	snapshot   domain.BookUpdate
}

func (f *fakeFeed) VenueID() string { return f.venueID }

func (f *fakeFeed) Subscribe(ctx context.Context, pairs []domain.TradingPair, out chan<- domain.BookUpdate) error {
	f.subscribes.Add(1)
	if f.snapshot.VenueID != "" {
		select {
		case out <- f.snapshot:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.failOnce.CompareAndSwap(true, false) {
		return errors.New("stream reset by peer")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeFeed) FetchOrderBook(ctx context.Context, pair domain.TradingPair) (domain.BookUpdate, error) {
	return f.snapshot, nil
}

type fakeFeeds map[string]*fakeFeed

func (m fakeFeeds) Feed(venueID string) (domain.VenueFeed, error) {
	if f, ok := m[venueID]; ok {
		return f, nil
	}
	return nil, domain.ErrVenueUnknown
}

func snapshotUpdate(venueID string, bid, bidQty, ask, askQty float64, at time.Time) domain.BookUpdate {
	return domain.BookUpdate{
		VenueID:  venueID,
		Pair:     btcUSDT,
		Snapshot: true,
		Bids:     []domain.PriceLevel{{Price: bid, Quantity: bidQty}},
		Asks:     []domain.PriceLevel{{Price: ask, Quantity: askQty}},
		At:       at,
	}
}

func TestLatestQuotesAcrossVenues(t *testing.T) {
	mc := clock.NewMock()
	a := New(fakeFeeds{}, nil, Config{}, mc, testLogger())
	a.Track("venue-a", []domain.TradingPair{btcUSDT})
	a.Track("venue-b", []domain.TradingPair{btcUSDT})

	now := mc.Now()
	a.Inject(snapshotUpdate("venue-a", 49950, 1, 50000, 1.5, now))
	a.Inject(snapshotUpdate("venue-b", 50250, 1, 50300, 1.2, now))

	quotes := a.LatestQuotes(btcUSDT)
	require.Len(t, quotes, 2)
	byVenue := map[string]domain.PriceQuote{}
	for _, q := range quotes {
		byVenue[q.VenueID] = q
	}
	assert.Equal(t, 50000.0, byVenue["venue-a"].BestAsk)
	assert.Equal(t, 50250.0, byVenue["venue-b"].BestBid)
	assert.True(t, byVenue["venue-a"].IsRealTime)
}

func TestLatestQuotesSkipsUnquotableBooks(t *testing.T) {
	mc := clock.NewMock()
	a := New(fakeFeeds{}, nil, Config{}, mc, testLogger())
	a.Track("venue-a", []domain.TradingPair{btcUSDT})

	// Bid only: book invalid, no quote must be produced.
	a.Inject(domain.BookUpdate{
		VenueID: "venue-a", Pair: btcUSDT,
		Side: domain.SideBuy, Price: 50000, Quantity: 1, At: mc.Now(),
	})
	assert.Empty(t, a.LatestQuotes(btcUSDT))
}

func TestStaleQuoteIsFlaggedNotDropped(t *testing.T) {
	mc := clock.NewMock()
	a := New(fakeFeeds{}, nil, Config{StalenessThreshold: 2 * time.Second}, mc, testLogger())
	a.Track("venue-a", []domain.TradingPair{btcUSDT})
	a.Inject(snapshotUpdate("venue-a", 49950, 1, 50000, 1, mc.Now()))

	mc.Add(5 * time.Second)
	quotes := a.LatestQuotes(btcUSDT)
	require.Len(t, quotes, 1)
	assert.False(t, quotes[0].IsRealTime)
}

func TestInjectUntrackedBookIsDropped(t *testing.T) {
	a := New(fakeFeeds{}, nil, Config{}, clock.NewMock(), testLogger())
	assert.NotPanics(t, func() {
		a.Inject(snapshotUpdate("nowhere", 1, 1, 2, 1, time.Now()))
	})
}

func TestStartMonitoringIsIdempotent(t *testing.T) {
	feed := &fakeFeed{venueID: "venue-a"}
	a := New(fakeFeeds{"venue-a": feed}, nil, Config{}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.StartMonitoring(ctx, []string{"venue-a"}, []domain.TradingPair{btcUSDT}))
	require.NoError(t, a.StartMonitoring(ctx, []string{"venue-a"}, []domain.TradingPair{btcUSDT}))

	assert.Eventually(t, func() bool {
		return feed.subscribes.Load() == 1
	}, time.Second, 10*time.Millisecond)
	// A second call must not add another subscription.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), feed.subscribes.Load())

	sts := a.Statuses()
	require.Len(t, sts, 1)
	assert.Equal(t, 1, sts[0].TrackedPairs)
}

func TestStreamFailureClearsBookAndReconnects(t *testing.T) {
	feed := &fakeFeed{
		venueID:  "venue-a",
		snapshot: snapshotUpdate("venue-a", 49950, 1, 50000, 1, time.Now()),
	}
	feed.failOnce.Store(true)

	a := New(fakeFeeds{"venue-a": feed}, nil, Config{
		ReconnectInitialDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:     20 * time.Millisecond,
	}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.StartMonitoring(ctx, []string{"venue-a"}, []domain.TradingPair{btcUSDT}))

	// First subscription delivers a snapshot, then fails; the reconnect
	// delivers the snapshot again and stays connected.
	assert.Eventually(t, func() bool {
		return feed.subscribes.Load() >= 2 && len(a.LatestQuotes(btcUSDT)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sts := a.Statuses()
	require.Len(t, sts, 1)
	assert.GreaterOrEqual(t, sts[0].Reconnects, int64(1))
}

func TestUnknownVenueFails(t *testing.T) {
	a := New(fakeFeeds{}, nil, Config{}, nil, testLogger())
	err := a.StartMonitoring(context.Background(), []string{"ghost"}, []domain.TradingPair{btcUSDT})
	assert.ErrorIs(t, err, domain.ErrVenueUnknown)
}
