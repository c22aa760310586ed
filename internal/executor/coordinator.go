// Package executor drives the two-leg execution of arbitrage opportunities
// under risk limits and a hard wall-clock budget.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/openarb/arbot/internal/domain"
)

// ClientSource resolves a venue's trade execution client, typically the venue
// registry. Paper mode registers the simulator for every venue.
type ClientSource interface {
	Exec(venueID string) (domain.TradeExecutionClient, error)
}

// Coordinator validates candidates and coordinates the correlated buy/sell
// legs. It owns its running state explicitly; there are no process-wide
// flags.
type Coordinator struct {
	clients ClientSource
	risk    domain.RiskProfileSource
	repo    domain.OpportunityRepository
	publish func(domain.Event)
	logger  *slog.Logger

	inflight *Inflight
	active   atomic.Int32 // trades currently executing
}

// NewCoordinator creates a coordinator. repo and publish may be nil in tests.
func NewCoordinator(clients ClientSource, risk domain.RiskProfileSource, repo domain.OpportunityRepository, publish func(domain.Event), logger *slog.Logger) *Coordinator {
	return &Coordinator{
		clients:  clients,
		risk:     risk,
		repo:     repo,
		publish:  publish,
		logger:   logger.With(slog.String("component", "executor")),
		inflight: NewInflight(),
	}
}

// Run consumes detection candidates and executes each in its own goroutine;
// the concurrency ceiling and per-identity dedup are enforced inside
// Execute. It blocks until ctx is cancelled and all launched executions have
// resolved to a terminal result.
func (c *Coordinator) Run(ctx context.Context, in <-chan domain.ArbitrageOpportunity) error {
	c.logger.Info("executor started")
	defer c.logger.Info("executor stopped")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp, ok := <-in:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := c.Execute(ctx, opp); err != nil {
					c.logger.Debug("execution rejected",
						slog.String("opp_id", opp.ID),
						slog.String("error", err.Error()),
					)
				}
			}()
		}
	}
}

// Execute runs one opportunity through the state machine
// Detected -> Validating -> Executing -> {Executed | Failed}. The returned
// error is non-nil only for dedup rejection (ErrDuplicateExecution); every
// other outcome is expressed in the returned result.
func (c *Coordinator) Execute(ctx context.Context, opp domain.ArbitrageOpportunity) (domain.ArbitrageTradeResult, error) {
	identity := opp.Identity()
	if !c.inflight.TryBegin(identity) {
		return domain.ArbitrageTradeResult{}, fmt.Errorf("opportunity %s: %w", opp.ID, domain.ErrDuplicateExecution)
	}
	defer c.inflight.End(identity)

	profile := c.risk.Current()

	// Validation runs before any network call; a violation fails the
	// opportunity with a reason and places no trade.
	if reason := c.validate(opp, profile); reason != "" {
		return c.fail(ctx, opp, reason, nil, nil), nil
	}

	c.active.Add(1)
	defer c.active.Add(-1)

	opp.Status = domain.OpportunityExecuting
	c.logger.Info("executing opportunity",
		slog.String("opp_id", opp.ID),
		slog.String("pair", opp.Pair.String()),
		slog.String("buy_venue", opp.BuyVenue),
		slog.String("sell_venue", opp.SellVenue),
		slog.Float64("qty", opp.EffectiveQty),
	)

	buyClient, err := c.clients.Exec(opp.BuyVenue)
	if err != nil {
		return c.fail(ctx, opp, fmt.Sprintf("buy venue unavailable: %v", err), nil, nil), nil
	}
	sellClient, err := c.clients.Exec(opp.SellVenue)
	if err != nil {
		return c.fail(ctx, opp, fmt.Sprintf("sell venue unavailable: %v", err), nil, nil), nil
	}

	// Both legs run concurrently, each under an independent timeout derived
	// from the risk profile's execution budget.
	timeout := profile.ExecutionTimeout()
	var buyRes, sellRes domain.TradeResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buyRes = c.placeLeg(ctx, buyClient, opp.BuyVenue, opp.Pair, domain.SideBuy, opp.EffectiveQty, timeout)
	}()
	go func() {
		defer wg.Done()
		sellRes = c.placeLeg(ctx, sellClient, opp.SellVenue, opp.Pair, domain.SideSell, opp.EffectiveQty, timeout)
	}()
	wg.Wait()

	if buyRes.IsSuccess && sellRes.IsSuccess {
		return c.succeed(ctx, opp, buyRes, sellRes), nil
	}

	// Partial failure: no automated unwind of a filled leg. Unwinding by
	// placing another order risks compounding losses during adverse moves;
	// both results are preserved and surfaced for reconciliation.
	reason := partialReason(buyRes, sellRes)
	return c.fail(ctx, opp, reason, &buyRes, &sellRes), nil
}

// validate re-checks the risk gates without network calls and returns a
// human-readable reason for the first violation, or "".
func (c *Coordinator) validate(opp domain.ArbitrageOpportunity, profile domain.RiskProfile) string {
	if opp.EffectiveQty <= 0 {
		return "effective quantity is zero"
	}
	if opp.ProfitPct < profile.MinProfitPercentage {
		return fmt.Sprintf("profit %.4f%% below minimum %.4f%%", opp.ProfitPct, profile.MinProfitPercentage)
	}
	if profile.MaxTradeAmount > 0 && opp.Notional() > profile.MaxTradeAmount {
		return fmt.Sprintf("notional %.2f exceeds max trade amount %.2f", opp.Notional(), profile.MaxTradeAmount)
	}
	if profile.MaxConcurrentTrades > 0 && int(c.active.Load()) >= profile.MaxConcurrentTrades {
		return fmt.Sprintf("concurrent trade ceiling reached (%d)", profile.MaxConcurrentTrades)
	}
	return ""
}

// placeLeg bounds one order placement by the leg timeout. When the budget is
// exceeded the leg resolves to a failed-by-timeout result immediately; a
// late client result is logged and discarded, never applied twice.
func (c *Coordinator) placeLeg(ctx context.Context, client domain.TradeExecutionClient, venueID string, pair domain.TradingPair, side domain.Side, qty float64, timeout time.Duration) domain.TradeResult {
	legCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type legOutcome struct {
		res domain.TradeResult
		err error
	}
	outcome := make(chan legOutcome, 1)
	started := time.Now()
	go func() {
		res, err := client.PlaceMarketOrder(legCtx, venueID, pair, side, qty)
		outcome <- legOutcome{res, err}
	}()

	select {
	case o := <-outcome:
		if o.err != nil {
			return domain.TradeResult{
				ID:              uuid.New().String(),
				VenueID:         venueID,
				Pair:            pair,
				Side:            side,
				RequestedQty:    qty,
				ExecutionTimeMs: time.Since(started).Milliseconds(),
				ErrorMessage:    o.err.Error(),
				ExecutedAt:      started.UTC(),
			}
		}
		return o.res
	case <-legCtx.Done():
		go func() {
			o := <-outcome
			c.logger.Warn("late leg result discarded",
				slog.String("venue", venueID),
				slog.String("side", string(side)),
				slog.Bool("late_success", o.err == nil && o.res.IsSuccess),
			)
		}()
		msg := domain.ErrExecutionTimeout.Error()
		if ctx.Err() != nil && legCtx.Err() == context.Canceled {
			msg = "cancelled before completion"
		}
		return domain.TradeResult{
			ID:              uuid.New().String(),
			VenueID:         venueID,
			Pair:            pair,
			Side:            side,
			RequestedQty:    qty,
			ExecutionTimeMs: time.Since(started).Milliseconds(),
			ErrorMessage:    msg,
			ExecutedAt:      started.UTC(),
		}
	}
}

func (c *Coordinator) succeed(ctx context.Context, opp domain.ArbitrageOpportunity, buyRes, sellRes domain.TradeResult) domain.ArbitrageTradeResult {
	opp.Status = domain.OpportunityExecuted
	result := domain.ArbitrageTradeResult{
		Opportunity:    opp,
		BuyResult:      &buyRes,
		SellResult:     &sellRes,
		RealizedProfit: sellRes.Notional() - buyRes.Notional() - buyRes.Fee - sellRes.Fee,
		IsSuccess:      true,
		CompletedAt:    time.Now().UTC(),
	}
	c.logger.Info("opportunity executed",
		slog.String("opp_id", opp.ID),
		slog.Float64("realized_profit", result.RealizedProfit),
		slog.Float64("estimated_profit", opp.ProfitAfterFees),
	)
	c.record(ctx, result)
	c.emit(domain.Event{Type: domain.EventTradeExecuted, Result: &result, At: result.CompletedAt})
	return result
}

func (c *Coordinator) fail(ctx context.Context, opp domain.ArbitrageOpportunity, reason string, buyRes, sellRes *domain.TradeResult) domain.ArbitrageTradeResult {
	opp.Status = domain.OpportunityFailed
	opp.Reason = reason
	result := domain.ArbitrageTradeResult{
		Opportunity: opp,
		BuyResult:   buyRes,
		SellResult:  sellRes,
		CompletedAt: time.Now().UTC(),
	}
	c.logger.Warn("opportunity failed",
		slog.String("opp_id", opp.ID),
		slog.String("reason", reason),
	)
	c.record(ctx, result)
	o := opp
	c.emit(domain.Event{Type: domain.EventTradeFailed, Opportunity: &o, Result: &result, Reason: reason, At: result.CompletedAt})
	return result
}

func (c *Coordinator) record(ctx context.Context, result domain.ArbitrageTradeResult) {
	if c.repo == nil {
		return
	}
	if err := c.repo.SaveTradeResult(ctx, result); err != nil {
		c.logger.Warn("save trade result failed",
			slog.String("opp_id", result.Opportunity.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) emit(ev domain.Event) {
	if c.publish != nil {
		c.publish(ev)
	}
}

func partialReason(buyRes, sellRes domain.TradeResult) string {
	switch {
	case buyRes.IsSuccess && !sellRes.IsSuccess:
		return fmt.Sprintf("buy leg filled but sell leg failed: %s", sellRes.ErrorMessage)
	case !buyRes.IsSuccess && sellRes.IsSuccess:
		return fmt.Sprintf("sell leg filled but buy leg failed: %s", buyRes.ErrorMessage)
	default:
		return fmt.Sprintf("both legs failed: buy: %s; sell: %s", buyRes.ErrorMessage, sellRes.ErrorMessage)
	}
}
