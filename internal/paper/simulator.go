// Package paper simulates order execution against the live modeled order
// books, so the full execution path runs without transferring real funds.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/openarb/arbot/internal/book"
	"github.com/openarb/arbot/internal/domain"
)

// BookSource resolves the current order book for a (venue, pair), normally
// the market data aggregator.
type BookSource interface {
	Book(venueID string, pair domain.TradingPair) *book.OrderBook
}

// Config controls fill economics and the simulated venue behavior.
type Config struct {
	// FeeRate is the taker fee applied to every fill, e.g. 0.001 for 10 bps.
	FeeRate float64
	// SlippageBps perturbs the fill price adversely by this many basis
	// points: buys fill above the quoted ask, sells below the quoted bid.
	SlippageBps float64
	// Latency delays each order before the fill is attempted, exercising
	// the same timeout paths a real venue would.
	Latency time.Duration
	// Balances seeds per-venue per-currency holdings: venue -> currency ->
	// amount.
	Balances map[string]map[string]float64
}

type balanceKey struct {
	venueID  string
	currency string
}

// Simulator implements domain.TradeExecutionClient by filling market orders
// at the best single price level of the venue's modeled book. Balances are
// mutated under one lock, so two concurrent fills against the same venue are
// serialized and a failed debit never leaves partial state behind.
type Simulator struct {
	cfg    Config
	books  BookSource
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	balances map[balanceKey]*domain.Balance
	history  []domain.TradeResult
}

// NewSimulator seeds balances from cfg. A nil clk uses the real clock.
func NewSimulator(cfg Config, books BookSource, clk clock.Clock, logger *slog.Logger) *Simulator {
	if clk == nil {
		clk = clock.New()
	}
	s := &Simulator{
		cfg:    cfg,
		books:  books,
		clock:  clk,
		logger: logger.With(slog.String("component", "paper")),
	}
	s.seed()
	return s
}

func (s *Simulator) seed() {
	s.balances = make(map[balanceKey]*domain.Balance)
	for venueID, currencies := range s.cfg.Balances {
		for currency, amount := range currencies {
			s.balances[balanceKey{venueID, currency}] = &domain.Balance{
				VenueID:   venueID,
				Currency:  currency,
				Total:     amount,
				Available: amount,
			}
		}
	}
}

// PlaceMarketOrder fills at the best ask (buy) or best bid (sell) of the
// venue's current book. The fill is single-level: a request larger than the
// top level fails with insufficient liquidity rather than walking the book.
func (s *Simulator) PlaceMarketOrder(ctx context.Context, venueID string, pair domain.TradingPair, side domain.Side, qty float64) (domain.TradeResult, error) {
	started := s.clock.Now()
	res := domain.TradeResult{
		ID:           uuid.New().String(),
		VenueID:      venueID,
		Pair:         pair,
		Side:         side,
		RequestedQty: qty,
		ExecutedAt:   started.UTC(),
	}

	if qty <= 0 {
		res.ErrorMessage = "quantity must be positive"
		return s.finish(res, started), nil
	}

	if s.cfg.Latency > 0 {
		select {
		case <-s.clock.After(s.cfg.Latency):
		case <-ctx.Done():
			res.ErrorMessage = "cancelled before fill"
			return s.finish(res, started), nil
		}
	}

	price, qtyAtBest, err := s.quoteLevel(venueID, pair, side)
	if err != nil {
		res.ErrorMessage = err.Error()
		return s.finish(res, started), nil
	}
	if qtyAtBest < qty {
		res.ErrorMessage = fmt.Sprintf("%v: best level holds %.8f of %.8f requested",
			domain.ErrInsufficientLiquidity, qtyAtBest, qty)
		return s.finish(res, started), nil
	}

	fillPrice := s.slip(price, side)
	fee := fillPrice * qty * s.cfg.FeeRate

	if err := s.settle(venueID, pair, side, qty, fillPrice, fee); err != nil {
		res.ErrorMessage = err.Error()
		return s.finish(res, started), nil
	}

	res.IsSuccess = true
	res.ExecutedQty = qty
	res.ExecutedPrice = fillPrice
	res.Fee = fee
	s.logger.Debug("paper fill",
		slog.String("venue", venueID),
		slog.String("pair", pair.String()),
		slog.String("side", string(side)),
		slog.Float64("price", fillPrice),
		slog.Float64("qty", qty),
	)
	return s.finish(res, started), nil
}

func (s *Simulator) quoteLevel(venueID string, pair domain.TradingPair, side domain.Side) (price, qty float64, err error) {
	if s.books == nil {
		return 0, 0, fmt.Errorf("no book source configured")
	}
	b := s.books.Book(venueID, pair)
	if b == nil {
		return 0, 0, fmt.Errorf("no order book for %s on %s", pair, venueID)
	}
	var level domain.PriceLevel
	if side == domain.SideBuy {
		level = b.BestAsk()
	} else {
		level = b.BestBid()
	}
	if level.Quantity <= 0 || level.Price <= 0 {
		return 0, 0, fmt.Errorf("%w: no %s liquidity for %s on %s", domain.ErrInsufficientLiquidity, side, pair, venueID)
	}
	return level.Price, level.Quantity, nil
}

// slip moves the fill price against the taker.
func (s *Simulator) slip(price float64, side domain.Side) float64 {
	if s.cfg.SlippageBps <= 0 {
		return price
	}
	factor := s.cfg.SlippageBps / 10000
	if side == domain.SideBuy {
		return price * (1 + factor)
	}
	return price * (1 - factor)
}

// settle moves funds for one fill atomically. A buy debits the quote
// currency by price*qty plus fee and credits the base currency; a sell is
// the mirror. Validation happens before any mutation, so a rejected debit
// leaves both balances untouched.
func (s *Simulator) settle(venueID string, pair domain.TradingPair, side domain.Side, qty, price, fee float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.balance(venueID, pair.Base)
	quote := s.balance(venueID, pair.Quote)

	if side == domain.SideBuy {
		cost := price*qty + fee
		if quote.Available < cost {
			return fmt.Errorf("%w: %s %s available %.8f, need %.8f",
				domain.ErrInsufficientBalance, venueID, pair.Quote, quote.Available, cost)
		}
		quote.Reserve(cost)
		quote.Settle(cost)
		base.Credit(qty)
		return nil
	}

	if base.Available < qty {
		return fmt.Errorf("%w: %s %s available %.8f, need %.8f",
			domain.ErrInsufficientBalance, venueID, pair.Base, base.Available, qty)
	}
	base.Reserve(qty)
	base.Settle(qty)
	quote.Credit(price*qty - fee)
	return nil
}

// balance returns the holding for (venue, currency), creating a zero record
// on first touch. Caller holds s.mu.
func (s *Simulator) balance(venueID, currency string) *domain.Balance {
	key := balanceKey{venueID, currency}
	b, ok := s.balances[key]
	if !ok {
		b = &domain.Balance{VenueID: venueID, Currency: currency}
		s.balances[key] = b
	}
	return b
}

func (s *Simulator) finish(res domain.TradeResult, started time.Time) domain.TradeResult {
	res.ExecutionTimeMs = s.clock.Now().Sub(started).Milliseconds()
	s.mu.Lock()
	s.history = append(s.history, res)
	s.mu.Unlock()
	return res
}

// Balance returns a copy of the holding for (venue, currency).
func (s *Simulator) Balance(venueID, currency string) (domain.Balance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[balanceKey{venueID, currency}]; ok {
		return *b, true
	}
	return domain.Balance{}, false
}

// Balances returns copies of all holdings for a venue.
func (s *Simulator) Balances(venueID string) []domain.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Balance, 0, len(s.balances))
	for key, b := range s.balances {
		if key.venueID == venueID {
			out = append(out, *b)
		}
	}
	return out
}

// History returns a copy of every fill attempt since the last Reset, in
// order.
func (s *Simulator) History() []domain.TradeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TradeResult, len(s.history))
	copy(out, s.history)
	return out
}

// Reset restores the seeded balances and clears the trade history.
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.seed()
	s.logger.Info("paper state reset")
}
