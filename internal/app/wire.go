package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openarb/arbot/internal/arbitrage"
	s3blob "github.com/openarb/arbot/internal/blob/s3"
	"github.com/openarb/arbot/internal/cache/redis"
	"github.com/openarb/arbot/internal/config"
	"github.com/openarb/arbot/internal/domain"
	"github.com/openarb/arbot/internal/events"
	"github.com/openarb/arbot/internal/marketdata"
	"github.com/openarb/arbot/internal/notify"
	"github.com/openarb/arbot/internal/paper"
	"github.com/openarb/arbot/internal/pool"
	"github.com/openarb/arbot/internal/store/postgres"
	"github.com/openarb/arbot/internal/venue"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Pool       *pool.Pool
	Registry   *venue.Registry
	Aggregator *marketdata.Aggregator
	Detector   *arbitrage.Detector
	Risk       *config.RiskSource
	Bus        *events.Bus

	// Repo is nil when postgres is disabled; consumers treat persistence
	// as optional.
	Repo domain.OpportunityRepository

	// Simulator is built in paper mode only.
	Simulator *paper.Simulator
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function to be
// called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	mode := strings.ToLower(cfg.Mode)

	// --- Connection pool + venue adapters ---
	deps.Pool = pool.New(pool.Config{
		MaxPerEndpoint: cfg.Pool.MaxPerEndpoint,
		MaxTotal:       cfg.Pool.MaxTotal,
	}, logger)
	closers = append(closers, deps.Pool.CloseAll)

	deps.Registry = venue.NewRegistry()
	for name, vc := range cfg.Venues {
		if !vc.Enabled {
			continue
		}
		entry, err := buildVenue(name, vc, mode, deps.Pool, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: venue %s: %w", name, err)
		}
		deps.Registry.Register(name, entry)
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Repo = postgres.NewOpportunityStore(pgClient.Pool())
	}

	// --- Redis ---
	var quoteCache domain.QuoteCache
	var sinks []events.Sink
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		quoteCache = redis.NewQuoteCache(redisClient)
		sinks = append(sinks, redis.NewBus(redisClient))
	}

	// --- S3 trade archiver ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		sinks = append(sinks, s3blob.NewArchiver(s3Client))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		allow := make([]domain.EventType, 0, len(cfg.Notify.Events))
		for _, e := range cfg.Notify.Events {
			allow = append(allow, domain.EventType(strings.TrimSpace(e)))
		}
		sinks = append(sinks, notify.NewNotifier(senders, allow, logger))
	}

	deps.Bus = events.NewBus(cfg.Events.QueueSize, sinks, logger)

	// --- Market data, risk, detection ---
	deps.Risk = config.NewRiskSource(cfg.Risk.Profile())

	deps.Aggregator = marketdata.New(deps.Registry, quoteCache, marketdata.Config{
		StalenessThreshold:    cfg.Aggregator.StalenessThreshold.Duration,
		PollInterval:          cfg.Aggregator.PollInterval.Duration,
		UpdateBuffer:          cfg.Aggregator.UpdateBuffer,
		ReconnectInitialDelay: cfg.Aggregator.ReconnectInitialDelay.Duration,
		ReconnectMaxDelay:     cfg.Aggregator.ReconnectMaxDelay.Duration,
	}, nil, logger)

	deps.Detector = arbitrage.NewDetector(deps.Aggregator, deps.Risk, arbitrage.Config{
		ScanInterval: cfg.Detector.ScanInterval.Duration,
		VenueFees:    cfg.VenueFees(),
		IncludeStale: cfg.Detector.IncludeStale,
	}, logger)

	// --- Paper simulator ---
	if mode == "paper" {
		deps.Simulator = paper.NewSimulator(paper.Config{
			FeeRate:     cfg.Paper.FeeRate,
			SlippageBps: cfg.Paper.SlippageBps,
			Latency:     cfg.Paper.Latency.Duration,
			Balances:    cfg.Paper.Balances,
		}, deps.Aggregator, nil, logger)
	}

	return deps, cleanup, nil
}

// buildVenue constructs the streaming feed and, in live mode, the signed
// REST execution client for one configured venue.
func buildVenue(name string, vc config.VenueConfig, mode string, p *pool.Pool, logger *slog.Logger) (venue.Entry, error) {
	var entry venue.Entry

	switch name {
	case "binance":
		entry.Feed = venue.NewBinanceFeed(name, vc.WSURL, vc.RestURL, p, logger)
		if mode == "live" {
			auth := &venue.HMACAuth{Key: vc.APIKey, Secret: vc.APISecret}
			entry.Exec = venue.NewRESTExecClient(name, vc.RestURL, "/api/v3/order", auth, logger)
		}
	case "coinbase":
		entry.Feed = venue.NewCoinbaseFeed(name, vc.WSURL, vc.RestURL, p, logger)
		if mode == "live" {
			auth := &venue.HMACAuth{Key: vc.APIKey, Secret: vc.APISecret}
			entry.Exec = venue.NewRESTExecClient(name, vc.RestURL, "/orders", auth, logger)
		}
	default:
		return entry, fmt.Errorf("unsupported venue %q", name)
	}
	return entry, nil
}
