package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openarb/arbot/internal/domain"
	"github.com/openarb/arbot/internal/executor"
	"github.com/openarb/arbot/internal/paper"
)

// candidateBuffer sizes the detector-to-executor handoff channel. A full
// channel drops candidates rather than queueing stale ones.
const candidateBuffer = 16

// simulatorSource serves the paper simulator as the execution client for
// every venue.
type simulatorSource struct {
	sim *paper.Simulator
}

func (s simulatorSource) Exec(string) (domain.TradeExecutionClient, error) {
	return s.sim, nil
}

// PaperMode runs the full trading loop with live market data and simulated
// execution.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	return a.runTrading(ctx, deps, simulatorSource{deps.Simulator})
}

// LiveMode runs the full trading loop with real venue execution clients.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")
	return a.runTrading(ctx, deps, deps.Registry)
}

// runTrading starts the aggregator, detector, executor, and event consumer,
// and blocks until the context is cancelled.
func (a *App) runTrading(ctx context.Context, deps *Dependencies, clients executor.ClientSource) error {
	pairs := a.cfg.TradingPairs()
	venues := a.cfg.EnabledVenues()

	if err := deps.Aggregator.StartMonitoring(ctx, venues, pairs); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Bus.Run(ctx)
	})

	candidates := make(chan domain.ArbitrageOpportunity, candidateBuffer)
	g.Go(func() error {
		return deps.Detector.Run(ctx, pairs, deps.Repo, deps.Bus.Publish, candidates)
	})

	coordinator := executor.NewCoordinator(clients, deps.Risk, deps.Repo, deps.Bus.Publish, a.logger)
	g.Go(func() error {
		return coordinator.Run(ctx, candidates)
	})

	g.Go(func() error {
		return a.statusLoop(ctx, deps)
	})

	return g.Wait()
}

// MonitorMode watches the market and reports detections without executing
// anything.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	pairs := a.cfg.TradingPairs()
	venues := a.cfg.EnabledVenues()

	if err := deps.Aggregator.StartMonitoring(ctx, venues, pairs); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Bus.Run(ctx)
	})

	g.Go(func() error {
		return deps.Detector.Run(ctx, pairs, deps.Repo, deps.Bus.Publish, nil)
	})

	g.Go(func() error {
		return a.statusLoop(ctx, deps)
	})

	return g.Wait()
}

// statusLoop periodically logs per-venue feed health.
func (a *App) statusLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, st := range deps.Aggregator.Statuses() {
				a.logger.Info("venue status",
					slog.String("venue", st.VenueID),
					slog.Bool("connected", st.Connected),
					slog.Int("pairs", st.TrackedPairs),
					slog.Int64("reconnects", st.Reconnects),
					slog.Time("last_message", st.LastMessageAt),
				)
			}
			if dropped := deps.Bus.Dropped(); dropped > 0 {
				a.logger.Warn("event queue drops", slog.Int64("dropped", dropped))
			}
		}
	}
}
