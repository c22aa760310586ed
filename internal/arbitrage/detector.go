// Package arbitrage scans aggregated quotes for cross-venue price
// discrepancies that remain profitable net of fees.
package arbitrage

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openarb/arbot/internal/domain"
)

// QuoteSource serves the latest per-venue quotes for a pair. Implemented by
// the market data aggregator.
type QuoteSource interface {
	LatestQuotes(pair domain.TradingPair) []domain.PriceQuote
}

// Config holds the detector's tunables. VenueFees maps venueID to its taker
// fee rate (e.g. 0.001 for 10 bps); the configured per-venue rate is the
// single source of fee truth.
type Config struct {
	ScanInterval time.Duration
	VenueFees    map[string]float64

	// DefaultFeeRate applies to venues missing from VenueFees.
	DefaultFeeRate float64

	// IncludeStale admits quotes flagged as not real-time into the scan.
	// Off by default: a stale leg makes the spread untrustworthy.
	IncludeStale bool
}

// Detector produces ranked arbitrage candidates from quote snapshots. The
// scan itself is a pure function of its inputs; the detector holds no state
// across cycles.
type Detector struct {
	quotes QuoteSource
	risk   domain.RiskProfileSource
	cfg    Config
	logger *slog.Logger
}

// NewDetector creates a detector.
func NewDetector(quotes QuoteSource, risk domain.RiskProfileSource, cfg Config, logger *slog.Logger) *Detector {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Second
	}
	return &Detector{
		quotes: quotes,
		risk:   risk,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "arb_detector")),
	}
}

func (d *Detector) feeRate(venueID string) float64 {
	if rate, ok := d.cfg.VenueFees[venueID]; ok {
		return rate
	}
	return d.cfg.DefaultFeeRate
}

// Scan evaluates every ordered venue pair for the trading pair and returns
// the surviving candidates ranked by profit percentage descending, ties
// broken by effective quantity descending, then detection order (stable).
// Both directions (i,j) and (j,i) are distinct candidates since fees and
// available quantity differ by direction.
func (d *Detector) Scan(pair domain.TradingPair) []domain.ArbitrageOpportunity {
	quotes := d.quotes.LatestQuotes(pair)
	if len(quotes) < 2 {
		return nil
	}
	profile := d.risk.Current()
	now := time.Now().UTC()

	var opps []domain.ArbitrageOpportunity
	for _, buy := range quotes {
		if !d.usable(buy) {
			continue
		}
		for _, sell := range quotes {
			if sell.VenueID == buy.VenueID || !d.usable(sell) {
				continue
			}
			if opp, ok := d.evaluate(pair, buy, sell, profile, now); ok {
				opps = append(opps, opp)
			}
		}
	}

	sort.SliceStable(opps, func(i, j int) bool {
		if opps[i].ProfitPct != opps[j].ProfitPct {
			return opps[i].ProfitPct > opps[j].ProfitPct
		}
		return opps[i].EffectiveQty > opps[j].EffectiveQty
	})
	return opps
}

func (d *Detector) usable(q domain.PriceQuote) bool {
	if !q.IsRealTime && !d.cfg.IncludeStale {
		d.logger.Debug("skipping stale quote",
			slog.String("venue", q.VenueID),
			slog.String("pair", q.Pair.String()),
		)
		return false
	}
	return true
}

// evaluate prices one direction: buy at buy.BestAsk, sell at sell.BestBid.
func (d *Detector) evaluate(pair domain.TradingPair, buy, sell domain.PriceQuote, profile domain.RiskProfile, now time.Time) (domain.ArbitrageOpportunity, bool) {
	buyPrice, sellPrice := buy.BestAsk, sell.BestBid
	if buyPrice <= 0 || sellPrice <= 0 || sellPrice <= buyPrice {
		return domain.ArbitrageOpportunity{}, false
	}

	qty := buy.BestAskQty
	if sell.BestBidQty < qty {
		qty = sell.BestBidQty
	}
	if profile.MaxTradeAmount > 0 {
		if cap := profile.MaxTradeAmount / buyPrice; cap < qty {
			qty = cap
		}
	}
	if qty <= 0 {
		return domain.ArbitrageOpportunity{}, false
	}

	spread := sellPrice - buyPrice
	estimated := spread * qty
	fees := (d.feeRate(buy.VenueID)*buyPrice + d.feeRate(sell.VenueID)*sellPrice) * qty
	net := estimated - fees
	if net <= 0 {
		return domain.ArbitrageOpportunity{}, false
	}
	profitPct := net / (buyPrice * qty) * 100
	if profitPct < profile.MinProfitPercentage {
		return domain.ArbitrageOpportunity{}, false
	}

	return domain.ArbitrageOpportunity{
		ID:              uuid.New().String(),
		Pair:            pair,
		BuyVenue:        buy.VenueID,
		SellVenue:       sell.VenueID,
		BuyPrice:        buyPrice,
		SellPrice:       sellPrice,
		BuyQty:          buy.BestAskQty,
		SellQty:         sell.BestBidQty,
		EffectiveQty:    qty,
		Spread:          spread,
		SpreadPct:       spread / buyPrice * 100,
		EstimatedProfit: estimated,
		ProfitAfterFees: net,
		ProfitPct:       profitPct,
		DetectedAt:      now,
		Status:          domain.OpportunityDetected,
	}, true
}

// Run scans every pair on a tick, persists detections, publishes
// OpportunityDetected events, and hands candidates to out. It blocks until
// ctx is cancelled.
func (d *Detector) Run(ctx context.Context, pairs []domain.TradingPair, repo domain.OpportunityRepository, publish func(domain.Event), out chan<- domain.ArbitrageOpportunity) error {
	ticker := time.NewTicker(d.cfg.ScanInterval)
	defer ticker.Stop()

	d.logger.Info("detector started", slog.Int("pairs", len(pairs)))
	defer d.logger.Info("detector stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, pair := range pairs {
				for _, opp := range d.Scan(pair) {
					d.emit(ctx, opp, repo, publish, out)
				}
			}
		}
	}
}

func (d *Detector) emit(ctx context.Context, opp domain.ArbitrageOpportunity, repo domain.OpportunityRepository, publish func(domain.Event), out chan<- domain.ArbitrageOpportunity) {
	d.logger.Info("opportunity detected",
		slog.String("opp_id", opp.ID),
		slog.String("pair", opp.Pair.String()),
		slog.String("buy_venue", opp.BuyVenue),
		slog.String("sell_venue", opp.SellVenue),
		slog.Float64("profit_pct", opp.ProfitPct),
		slog.Float64("qty", opp.EffectiveQty),
	)
	if repo != nil {
		if err := repo.SaveOpportunity(ctx, opp); err != nil {
			d.logger.Warn("save opportunity failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if publish != nil {
		o := opp
		publish(domain.Event{
			Type:        domain.EventOpportunityDetected,
			Opportunity: &o,
			At:          time.Now().UTC(),
		})
	}
	if out != nil {
		select {
		case out <- opp:
		default:
			// Executor backlogged; this cycle's candidate is already stale
			// by the next scan, so drop rather than queue.
			d.logger.Warn("execution queue full, dropping candidate",
				slog.String("opp_id", opp.ID),
			)
		}
	}
}
