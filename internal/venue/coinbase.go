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

	"github.com/openarb/arbot/internal/domain"
	"github.com/openarb/arbot/internal/pool"
)

// CoinbaseFeed streams the level2 channel from the Coinbase Exchange
// websocket. Unlike Binance, Coinbase pushes a full snapshot message after
// subscribing, so no REST seed is required on the streaming path.
type CoinbaseFeed struct {
	venueID string
	wsURL   string
	restURL string
	pool    *pool.Pool
	http    *http.Client
	logger  *slog.Logger
}

// NewCoinbaseFeed creates a Coinbase feed adapter.
func NewCoinbaseFeed(venueID, wsURL, restURL string, p *pool.Pool, logger *slog.Logger) *CoinbaseFeed {
	return &CoinbaseFeed{
		venueID: venueID,
		wsURL:   wsURL,
		restURL: strings.TrimRight(restURL, "/"),
		pool:    p,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With(slog.String("component", "coinbase_feed")),
	}
}

// VenueID returns the registered venue identifier.
func (f *CoinbaseFeed) VenueID() string { return f.venueID }

// coinbaseProduct converts BTC/USDT to BTC-USDT.
func coinbaseProduct(p domain.TradingPair) string {
	return p.Base + "-" + p.Quote
}

type coinbaseMessage struct {
	Type      string      `json:"type"`
	ProductID string      `json:"product_id"`
	Bids      [][2]string `json:"bids"`
	Asks      [][2]string `json:"asks"`
	Changes   [][3]string `json:"changes"`
	Time      time.Time   `json:"time"`
}

// Subscribe opens a pooled connection, subscribes to level2 for every pair,
// and forwards normalized snapshots/deltas to out.
func (f *CoinbaseFeed) Subscribe(ctx context.Context, pairs []domain.TradingPair, out chan<- domain.BookUpdate) error {
	conn, err := f.pool.Acquire(ctx, f.wsURL)
	if err != nil {
		return fmt.Errorf("coinbase: acquire connection: %w", err)
	}
	defer f.pool.Release(conn)

	products := make([]string, 0, len(pairs))
	productPair := make(map[string]domain.TradingPair, len(pairs))
	for _, p := range pairs {
		prod := coinbaseProduct(p)
		products = append(products, prod)
		productPair[prod] = p
	}

	sub := map[string]any{
		"type":        "subscribe",
		"product_ids": products,
		"channels":    []string{"level2"},
	}
	conn.WS.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WS.WriteJSON(sub); err != nil {
		conn.MarkDead()
		return fmt.Errorf("coinbase: subscribe: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var msg coinbaseMessage
		if err := conn.WS.ReadJSON(&msg); err != nil {
			conn.MarkDead()
			return fmt.Errorf("coinbase: read: %w: %v", domain.ErrFeedDisconnected, err)
		}
		f.dispatch(ctx, msg, productPair, out)
	}
}

func (f *CoinbaseFeed) dispatch(ctx context.Context, msg coinbaseMessage, productPair map[string]domain.TradingPair, out chan<- domain.BookUpdate) {
	pair, ok := productPair[msg.ProductID]
	if !ok {
		return
	}
	at := msg.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch msg.Type {
	case "snapshot":
		update := domain.BookUpdate{
			VenueID:  f.venueID,
			Pair:     pair,
			Snapshot: true,
			Bids:     parsePairs(msg.Bids),
			Asks:     parsePairs(msg.Asks),
			At:       at,
		}
		select {
		case out <- update:
		case <-ctx.Done():
		}

	case "l2update":
		for _, ch := range msg.Changes {
			var side domain.Side
			switch ch[0] {
			case "buy":
				side = domain.SideBuy
			case "sell":
				side = domain.SideSell
			default:
				f.logger.Debug("dropping unknown change side", slog.String("side", ch[0]))
				continue
			}
			price, err1 := strconv.ParseFloat(ch[1], 64)
			qty, err2 := strconv.ParseFloat(ch[2], 64)
			if err1 != nil || err2 != nil {
				f.logger.Debug("dropping malformed change", slog.String("product", msg.ProductID))
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
}

// FetchOrderBook pulls a REST level-2 snapshot, used as the polling fallback.
func (f *CoinbaseFeed) FetchOrderBook(ctx context.Context, pair domain.TradingPair) (domain.BookUpdate, error) {
	url := fmt.Sprintf("%s/products/%s/book?level=2", f.restURL, coinbaseProduct(pair))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.BookUpdate{}, fmt.Errorf("coinbase: build request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return domain.BookUpdate{}, fmt.Errorf("coinbase: fetch book: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.BookUpdate{}, fmt.Errorf("coinbase: fetch book: status %d", resp.StatusCode)
	}

	var body struct {
		Bids [][]json.RawMessage `json:"bids"`
		Asks [][]json.RawMessage `json:"asks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.BookUpdate{}, fmt.Errorf("coinbase: decode book: %w", err)
	}
	return domain.BookUpdate{
		VenueID:  f.venueID,
		Pair:     pair,
		Snapshot: true,
		Bids:     parseRawLevels(body.Bids),
		Asks:     parseRawLevels(body.Asks),
		At:       time.Now().UTC(),
	}, nil
}

func parsePairs(raw [][2]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, l := range raw {
		price, err1 := strconv.ParseFloat(l[0], 64)
		qty, err2 := strconv.ParseFloat(l[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return levels
}

// parseRawLevels handles Coinbase REST book rows, whose entries mix strings
// and numbers ([price, size, num_orders]).
func parseRawLevels(rows [][]json.RawMessage) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		var priceStr, qtyStr string
		if err := json.Unmarshal(row[0], &priceStr); err != nil {
			continue
		}
		if err := json.Unmarshal(row[1], &qtyStr); err != nil {
			continue
		}
		price, err1 := strconv.ParseFloat(priceStr, 64)
		qty, err2 := strconv.ParseFloat(qtyStr, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return levels
}
