// Package marketdata keeps one order book per (venue, pair) fresh and serves
// the latest best-bid/best-ask quotes to consumers without touching the
// network on the read path.
package marketdata

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/openarb/arbot/internal/book"
	"github.com/openarb/arbot/internal/domain"
)

// Config holds the aggregator's tunables.
type Config struct {
	// StalenessThreshold is the age beyond which a quote is flagged as not
	// real-time. Stale quotes are still served.
	StalenessThreshold time.Duration

	// PollInterval drives the REST fallback; zero disables polling.
	PollInterval time.Duration

	// UpdateBuffer is the per-book queue depth.
	UpdateBuffer int

	// ReconnectInitialDelay and ReconnectMaxDelay bound the backoff between
	// resubscription attempts after a stream failure.
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
}

func (c *Config) defaults() {
	if c.StalenessThreshold <= 0 {
		c.StalenessThreshold = 5 * time.Second
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = 256
	}
	if c.ReconnectInitialDelay <= 0 {
		c.ReconnectInitialDelay = time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
}

type bookKey struct {
	venueID string
	pair    domain.TradingPair
}

// bookWorker owns one order book and a single-consumer update queue, so
// updates for one book apply strictly in arrival order while different books
// never block each other.
type bookWorker struct {
	book    *book.OrderBook
	updates chan domain.BookUpdate
}

type venueState struct {
	feed       domain.VenueFeed
	pairs      map[domain.TradingPair]bool
	connected  atomic.Bool
	reconnects atomic.Int64
	lastMsg    atomic.Int64 // unix nanos
}

// FeedSource resolves a venue's feed adapter, typically the venue registry.
type FeedSource interface {
	Feed(venueID string) (domain.VenueFeed, error)
}

// Aggregator owns every order book and the subscription/polling workers that
// keep them current.
type Aggregator struct {
	feeds  FeedSource
	cache  domain.QuoteCache // optional mirror for external readers
	clock  clock.Clock
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	books   map[bookKey]*bookWorker
	venues  map[string]*venueState
	started bool
	wg      sync.WaitGroup
}

// New creates an aggregator. cache may be nil; clk is swappable for tests.
func New(feeds FeedSource, cache domain.QuoteCache, cfg Config, clk clock.Clock, logger *slog.Logger) *Aggregator {
	cfg.defaults()
	if clk == nil {
		clk = clock.New()
	}
	return &Aggregator{
		feeds:  feeds,
		cache:  cache,
		clock:  clk,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "aggregator")),
		books:  make(map[bookKey]*bookWorker),
		venues: make(map[string]*venueState),
	}
}

// StartMonitoring idempotently ensures a streaming subscription (and polling
// fallback when enabled) exists for every (venue, pair). Starting an already
// active pair is a no-op; new pairs on a known venue get their own
// subscription worker.
func (a *Aggregator) StartMonitoring(ctx context.Context, venueIDs []string, pairs []domain.TradingPair) error {
	for _, venueID := range venueIDs {
		newPairs, vs, err := a.track(venueID, pairs)
		if err != nil {
			return err
		}
		if len(newPairs) == 0 {
			continue
		}

		updates := make(chan domain.BookUpdate, a.cfg.UpdateBuffer)
		a.wg.Add(2)
		go func() {
			defer a.wg.Done()
			a.route(ctx, updates)
		}()
		go func(venueID string, vs *venueState, ps []domain.TradingPair) {
			defer a.wg.Done()
			a.subscribeLoop(ctx, venueID, vs, ps, updates)
		}(venueID, vs, newPairs)

		if a.cfg.PollInterval > 0 {
			a.wg.Add(1)
			go func(venueID string, vs *venueState, ps []domain.TradingPair) {
				defer a.wg.Done()
				a.pollLoop(ctx, venueID, vs, ps, updates)
			}(venueID, vs, newPairs)
		}
	}
	return nil
}

// track registers new (venue, pair) books and returns the pairs not yet
// monitored for this venue.
func (a *Aggregator) track(venueID string, pairs []domain.TradingPair) ([]domain.TradingPair, *venueState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	vs, ok := a.venues[venueID]
	if !ok {
		feed, err := a.feeds.Feed(venueID)
		if err != nil {
			return nil, nil, err
		}
		vs = &venueState{feed: feed, pairs: make(map[domain.TradingPair]bool)}
		a.venues[venueID] = vs
	}

	var newPairs []domain.TradingPair
	for _, p := range pairs {
		if vs.pairs[p] {
			continue
		}
		vs.pairs[p] = true
		newPairs = append(newPairs, p)

		key := bookKey{venueID, p}
		bw := &bookWorker{
			book:    book.New(venueID, p),
			updates: make(chan domain.BookUpdate, a.cfg.UpdateBuffer),
		}
		a.books[key] = bw
		a.wg.Add(1)
		// One consumer per book: apply loop.
		go func(bw *bookWorker) {
			defer a.wg.Done()
			for u := range bw.updates {
				a.apply(bw, u)
			}
		}(bw)
	}
	return newPairs, vs, nil
}

// route fans inbound feed messages out to the owning book's queue. The feed
// channel is closed by nobody; route exits on ctx cancellation.
func (a *Aggregator) route(ctx context.Context, updates <-chan domain.BookUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			a.mu.RLock()
			bw, ok := a.books[bookKey{u.VenueID, u.Pair}]
			a.mu.RUnlock()
			if !ok {
				a.logger.Debug("update for untracked book dropped",
					slog.String("venue", u.VenueID),
					slog.String("pair", u.Pair.String()),
				)
				continue
			}
			select {
			case bw.updates <- u:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *Aggregator) apply(bw *bookWorker, u domain.BookUpdate) {
	if u.Snapshot {
		bw.book.ApplySnapshot(u.Bids, u.Asks, u.At)
	} else {
		bw.book.ApplyDelta(u.Side, u.Price, u.Quantity, u.At)
	}
	a.mu.RLock()
	vs := a.venues[u.VenueID]
	a.mu.RUnlock()
	if vs != nil {
		vs.lastMsg.Store(a.clock.Now().UnixNano())
	}
	a.mirror(bw)
}

// mirror pushes the latest quote into the external cache, fire-and-forget.
func (a *Aggregator) mirror(bw *bookWorker) {
	if a.cache == nil {
		return
	}
	q, ok := bw.book.Quote()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := a.cache.SetQuote(ctx, q); err != nil {
		a.logger.Debug("quote cache write failed",
			slog.String("venue", q.VenueID),
			slog.String("error", err.Error()),
		)
	}
}

// subscribeLoop keeps one streaming subscription alive. On stream failure the
// affected books are cleared (their contents can no longer be trusted) and a
// reconnect is scheduled with exponential backoff; polling covers the gap.
func (a *Aggregator) subscribeLoop(ctx context.Context, venueID string, vs *venueState, pairs []domain.TradingPair, updates chan<- domain.BookUpdate) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.cfg.ReconnectInitialDelay
	bo.MaxInterval = a.cfg.ReconnectMaxDelay
	bo.MaxElapsedTime = 0 // retry until cancelled

	for {
		if ctx.Err() != nil {
			return
		}
		vs.connected.Store(true)
		err := vs.feed.Subscribe(ctx, pairs, updates)
		vs.connected.Store(false)
		if ctx.Err() != nil {
			return
		}

		vs.reconnects.Add(1)
		a.clearBooks(venueID, pairs)
		delay := bo.NextBackOff()
		a.logger.Warn("stream failed, reconnecting",
			slog.String("venue", venueID),
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return
		case <-a.clock.After(delay):
		}
	}
}

func errString(err error) string {
	if err == nil {
		return "stream ended"
	}
	return err.Error()
}

// clearBooks empties every book owned by a failed subscription.
func (a *Aggregator) clearBooks(venueID string, pairs []domain.TradingPair) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, p := range pairs {
		if bw, ok := a.books[bookKey{venueID, p}]; ok {
			bw.book.Clear()
		}
	}
}

// pollLoop is the REST fallback: a cooperative ticker that fetches snapshots
// and feeds them through the same routing path, exiting cleanly on cancel.
func (a *Aggregator) pollLoop(ctx context.Context, venueID string, vs *venueState, pairs []domain.TradingPair, updates chan<- domain.BookUpdate) {
	ticker := a.clock.Ticker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range pairs {
				snap, err := vs.feed.FetchOrderBook(ctx, p)
				if err != nil {
					a.logger.Debug("poll failed",
						slog.String("venue", venueID),
						slog.String("pair", p.String()),
						slog.String("error", err.Error()),
					)
					continue
				}
				select {
				case updates <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// LatestQuotes returns one quote per venue currently tracking the pair,
// derived from in-memory book state. It never performs network I/O. Quotes
// older than the staleness threshold are flagged IsRealTime=false.
func (a *Aggregator) LatestQuotes(pair domain.TradingPair) []domain.PriceQuote {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.clock.Now()
	var quotes []domain.PriceQuote
	for key, bw := range a.books {
		if key.pair != pair {
			continue
		}
		q, ok := bw.book.Quote()
		if !ok {
			continue
		}
		if now.Sub(q.Timestamp) > a.cfg.StalenessThreshold {
			q.IsRealTime = false
		}
		quotes = append(quotes, q)
	}
	return quotes
}

// Book returns the live order book for a (venue, pair), or nil when the pair
// is not tracked there. Used by the paper simulator's fill path.
func (a *Aggregator) Book(venueID string, pair domain.TradingPair) *book.OrderBook {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if bw, ok := a.books[bookKey{venueID, pair}]; ok {
		return bw.book
	}
	return nil
}

// Statuses summarizes per-venue feed health for the monitor mode.
func (a *Aggregator) Statuses() []domain.VenueStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	statuses := make([]domain.VenueStatus, 0, len(a.venues))
	for id, vs := range a.venues {
		st := domain.VenueStatus{
			VenueID:      id,
			Connected:    vs.connected.Load(),
			TrackedPairs: len(vs.pairs),
			Reconnects:   vs.reconnects.Load(),
		}
		if ns := vs.lastMsg.Load(); ns > 0 {
			st.LastMessageAt = time.Unix(0, ns)
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// Inject delivers one update through the routing path synchronously. Test
// hook and entry point for adapters not managed by StartMonitoring.
func (a *Aggregator) Inject(u domain.BookUpdate) {
	a.mu.RLock()
	bw, ok := a.books[bookKey{u.VenueID, u.Pair}]
	a.mu.RUnlock()
	if !ok {
		a.logger.Debug("update for untracked book dropped",
			slog.String("venue", u.VenueID),
			slog.String("pair", u.Pair.String()),
		)
		return
	}
	a.apply(bw, u)
}

// Track registers books without starting network workers. Used by paper mode
// and tests that drive updates through Inject.
func (a *Aggregator) Track(venueID string, pairs []domain.TradingPair) {
	a.mu.Lock()
	defer a.mu.Unlock()
	vs, ok := a.venues[venueID]
	if !ok {
		vs = &venueState{pairs: make(map[domain.TradingPair]bool)}
		a.venues[venueID] = vs
	}
	for _, p := range pairs {
		if vs.pairs[p] {
			continue
		}
		vs.pairs[p] = true
		key := bookKey{venueID, p}
		a.books[key] = &bookWorker{
			book:    book.New(venueID, p),
			updates: make(chan domain.BookUpdate, a.cfg.UpdateBuffer),
		}
	}
}
