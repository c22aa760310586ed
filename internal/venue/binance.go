package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openarb/arbot/internal/domain"
	"github.com/openarb/arbot/internal/pool"
)

const (
	binanceWriteWait  = 10 * time.Second
	binancePongWait   = 60 * time.Second
	binancePingPeriod = (binancePongWait * 9) / 10
)

// BinanceFeed streams diff-depth updates from the Binance spot websocket and
// normalizes them into BookUpdate deltas. A REST depth snapshot seeds each
// subscription and serves as the polling fallback.
type BinanceFeed struct {
	venueID string
	wsURL   string
	restURL string
	pool    *pool.Pool
	http    *http.Client
	logger  *slog.Logger
}

// NewBinanceFeed creates a Binance feed adapter. venueID is the identifier
// the rest of the system uses (usually "binance").
func NewBinanceFeed(venueID, wsURL, restURL string, p *pool.Pool, logger *slog.Logger) *BinanceFeed {
	return &BinanceFeed{
		venueID: venueID,
		wsURL:   wsURL,
		restURL: strings.TrimRight(restURL, "/"),
		pool:    p,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With(slog.String("component", "binance_feed")),
	}
}

// VenueID returns the registered venue identifier.
func (f *BinanceFeed) VenueID() string { return f.venueID }

// binanceSymbol converts BTC/USDT to btcusdt.
func binanceSymbol(p domain.TradingPair) string {
	return strings.ToLower(p.Base + p.Quote)
}

type binanceDepthEvent struct {
	Event  string     `json:"e"`
	Symbol string     `json:"s"`
	Time   int64      `json:"E"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
}

type binanceDepthSnapshot struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// Subscribe opens a pooled websocket connection, subscribes to the depth
// stream for every pair, seeds each book with a REST snapshot, and forwards
// normalized deltas to out until ctx is cancelled or the stream fails.
func (f *BinanceFeed) Subscribe(ctx context.Context, pairs []domain.TradingPair, out chan<- domain.BookUpdate) error {
	conn, err := f.pool.Acquire(ctx, f.wsURL)
	if err != nil {
		return fmt.Errorf("binance: acquire connection: %w", err)
	}
	defer f.pool.Release(conn)

	params := make([]string, 0, len(pairs))
	symbolPair := make(map[string]domain.TradingPair, len(pairs))
	for _, p := range pairs {
		sym := binanceSymbol(p)
		params = append(params, sym+"@depth@100ms")
		symbolPair[strings.ToUpper(sym)] = p
	}

	conn.WS.SetWriteDeadline(time.Now().Add(binanceWriteWait))
	sub := map[string]any{"method": "SUBSCRIBE", "params": params, "id": 1}
	if err := conn.WS.WriteJSON(sub); err != nil {
		conn.MarkDead()
		return fmt.Errorf("binance: subscribe: %w", err)
	}

	// Seed every book with a full snapshot before applying deltas.
	for _, p := range pairs {
		snap, err := f.FetchOrderBook(ctx, p)
		if err != nil {
			f.logger.Warn("initial snapshot failed",
				slog.String("pair", p.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		select {
		case out <- snap:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	conn.WS.SetReadDeadline(time.Now().Add(binancePongWait))
	conn.WS.SetPongHandler(func(string) error {
		conn.WS.SetReadDeadline(time.Now().Add(binancePongWait))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go f.pingLoop(ctx, conn, pingDone)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.WS.ReadMessage()
		if err != nil {
			conn.MarkDead()
			return fmt.Errorf("binance: read: %w: %v", domain.ErrFeedDisconnected, err)
		}
		f.dispatch(ctx, raw, symbolPair, out)
	}
}

func (f *BinanceFeed) pingLoop(ctx context.Context, conn *pool.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(binancePingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			conn.WS.SetWriteDeadline(time.Now().Add(binanceWriteWait))
			if err := conn.WS.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch normalizes one raw message into per-level deltas. Malformed
// messages are dropped and logged, never propagated.
func (f *BinanceFeed) dispatch(ctx context.Context, raw []byte, symbolPair map[string]domain.TradingPair, out chan<- domain.BookUpdate) {
	var ev binanceDepthEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Event != "depthUpdate" {
		if err != nil {
			f.logger.Debug("dropping malformed message", slog.String("error", err.Error()))
		}
		return
	}
	pair, ok := symbolPair[ev.Symbol]
	if !ok {
		return
	}
	at := time.UnixMilli(ev.Time)

	emit := func(side domain.Side, levels [][]string) {
		for _, l := range levels {
			if len(l) != 2 {
				continue
			}
			price, err1 := strconv.ParseFloat(l[0], 64)
			qty, err2 := strconv.ParseFloat(l[1], 64)
			if err1 != nil || err2 != nil {
				f.logger.Debug("dropping malformed level", slog.String("symbol", ev.Symbol))
				continue
			}
			select {
			case out <- domain.BookUpdate{
				VenueID:  f.venueID,
				Pair:     pair,
				Side:     side,
				Price:    price,
				Quantity: qty,
				At:       at,
			}:
			case <-ctx.Done():
				return
			}
		}
	}
	emit(domain.SideBuy, ev.Bids)
	emit(domain.SideSell, ev.Asks)
}

// FetchOrderBook pulls a REST depth snapshot, used both to seed streaming
// subscriptions and as the polling fallback.
func (f *BinanceFeed) FetchOrderBook(ctx context.Context, pair domain.TradingPair) (domain.BookUpdate, error) {
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=100",
		f.restURL, strings.ToUpper(binanceSymbol(pair)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.BookUpdate{}, fmt.Errorf("binance: build request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return domain.BookUpdate{}, fmt.Errorf("binance: fetch depth: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.BookUpdate{}, fmt.Errorf("binance: fetch depth: status %d", resp.StatusCode)
	}

	var snap binanceDepthSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return domain.BookUpdate{}, fmt.Errorf("binance: decode depth: %w", err)
	}
	return domain.BookUpdate{
		VenueID:  f.venueID,
		Pair:     pair,
		Snapshot: true,
		Bids:     parseLevels(snap.Bids),
		Asks:     parseLevels(snap.Asks),
		At:       time.Now().UTC(),
	}, nil
}

func parseLevels(raw [][]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, l := range raw {
		if len(l) != 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(l[0], 64)
		qty, err2 := strconv.ParseFloat(l[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return levels
}
