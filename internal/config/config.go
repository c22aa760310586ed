// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openarb/arbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBOT_* environment variables.
type Config struct {
	Venues     map[string]VenueConfig `toml:"venues"`
	Pairs      []string               `toml:"pairs"`
	Risk       RiskConfig             `toml:"risk"`
	Detector   DetectorConfig         `toml:"detector"`
	Aggregator AggregatorConfig       `toml:"aggregator"`
	Pool       PoolConfig             `toml:"pool"`
	Paper      PaperConfig            `toml:"paper"`
	Events     EventsConfig           `toml:"events"`
	Postgres   PostgresConfig         `toml:"postgres"`
	Redis      RedisConfig            `toml:"redis"`
	S3         S3Config               `toml:"s3"`
	Notify     NotifyConfig           `toml:"notify"`
	Mode       string                 `toml:"mode"`
	LogLevel   string                 `toml:"log_level"`
}

// VenueConfig holds one exchange's endpoints, credentials, and fee schedule.
type VenueConfig struct {
	Enabled   bool    `toml:"enabled"`
	WSURL     string  `toml:"ws_url"`
	RestURL   string  `toml:"rest_url"`
	APIKey    string  `toml:"api_key"`
	APISecret string  `toml:"api_secret"`
	// FeeRate is the taker fee as a fraction, e.g. 0.001 for 10 bps. It is
	// the single source of truth for this venue's fees.
	FeeRate float64 `toml:"fee_rate"`
}

// RiskConfig holds the execution risk limits.
type RiskConfig struct {
	MinProfitPercentage   float64 `toml:"min_profit_percentage"`
	MaxTradeAmount        float64 `toml:"max_trade_amount"`
	MaxSlippagePercentage float64 `toml:"max_slippage_percentage"`
	MaxExecutionTimeMs    int64   `toml:"max_execution_time_ms"`
	MaxConcurrentTrades   int     `toml:"max_concurrent_trades"`
	DailyLossLimitPercent float64 `toml:"daily_loss_limit_percent"`
}

// Profile converts the config section into the domain risk profile.
func (r RiskConfig) Profile() domain.RiskProfile {
	return domain.RiskProfile{
		MinProfitPercentage:   r.MinProfitPercentage,
		MaxTradeAmount:        r.MaxTradeAmount,
		MaxSlippagePercentage: r.MaxSlippagePercentage,
		MaxExecutionTimeMs:    r.MaxExecutionTimeMs,
		MaxConcurrentTrades:   r.MaxConcurrentTrades,
		DailyLossLimitPercent: r.DailyLossLimitPercent,
	}
}

// DetectorConfig holds opportunity scanning parameters.
type DetectorConfig struct {
	ScanInterval duration `toml:"scan_interval"`
	IncludeStale bool     `toml:"include_stale"`
}

// AggregatorConfig holds market data aggregation parameters.
type AggregatorConfig struct {
	StalenessThreshold    duration `toml:"staleness_threshold"`
	PollInterval          duration `toml:"poll_interval"`
	UpdateBuffer          int      `toml:"update_buffer"`
	ReconnectInitialDelay duration `toml:"reconnect_initial_delay"`
	ReconnectMaxDelay     duration `toml:"reconnect_max_delay"`
}

// PoolConfig holds websocket connection pool limits.
type PoolConfig struct {
	MaxPerEndpoint int `toml:"max_per_endpoint"`
	MaxTotal       int `toml:"max_total"`
}

// PaperConfig holds paper trading simulation parameters.
type PaperConfig struct {
	FeeRate     float64  `toml:"fee_rate"`
	SlippageBps float64  `toml:"slippage_bps"`
	Latency     duration `toml:"latency"`
	// Balances seeds venue -> currency -> amount.
	Balances map[string]map[string]float64 `toml:"balances"`
}

// EventsConfig holds the outbound event queue parameters.
type EventsConfig struct {
	QueueSize int `toml:"queue_size"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the trade
// archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	// Events limits which event types trigger alerts; empty allows all.
	Events []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// TradingPairs parses the configured pair strings, skipping malformed ones.
func (c *Config) TradingPairs() []domain.TradingPair {
	pairs := make([]domain.TradingPair, 0, len(c.Pairs))
	for _, s := range c.Pairs {
		p := domain.ParsePair(s)
		if !p.IsZero() {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// EnabledVenues returns the names of all enabled venues.
func (c *Config) EnabledVenues() []string {
	var names []string
	for name, vc := range c.Venues {
		if vc.Enabled {
			names = append(names, name)
		}
	}
	return names
}

// VenueFees returns fee rates per enabled venue for the detector.
func (c *Config) VenueFees() map[string]float64 {
	fees := make(map[string]float64, len(c.Venues))
	for name, vc := range c.Venues {
		if vc.Enabled {
			fees[name] = vc.FeeRate
		}
	}
	return fees
}

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venues: map[string]VenueConfig{
			"binance": {
				Enabled: true,
				WSURL:   "wss://stream.binance.com:9443/ws",
				RestURL: "https://api.binance.com",
				FeeRate: 0.001,
			},
			"coinbase": {
				Enabled: true,
				WSURL:   "wss://ws-feed.exchange.coinbase.com",
				RestURL: "https://api.exchange.coinbase.com",
				FeeRate: 0.006,
			},
		},
		Pairs: []string{"BTC/USDT", "ETH/USDT"},
		Risk: RiskConfig{
			MinProfitPercentage:   0.1,
			MaxTradeAmount:        1000,
			MaxSlippagePercentage: 0.5,
			MaxExecutionTimeMs:    5000,
			MaxConcurrentTrades:   3,
			DailyLossLimitPercent: 5,
		},
		Detector: DetectorConfig{
			ScanInterval: duration{time.Second},
			IncludeStale: false,
		},
		Aggregator: AggregatorConfig{
			StalenessThreshold:    duration{5 * time.Second},
			PollInterval:          duration{10 * time.Second},
			UpdateBuffer:          256,
			ReconnectInitialDelay: duration{time.Second},
			ReconnectMaxDelay:     duration{30 * time.Second},
		},
		Pool: PoolConfig{
			MaxPerEndpoint: 4,
			MaxTotal:       16,
		},
		Paper: PaperConfig{
			FeeRate:     0.001,
			SlippageBps: 5,
			Latency:     duration{50 * time.Millisecond},
			Balances: map[string]map[string]float64{
				"binance":  {"USDT": 10000, "BTC": 0.5},
				"coinbase": {"USDT": 10000, "BTC": 0.5},
			},
		},
		Events: EventsConfig{
			QueueSize: 256,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "arbot",
			User:          "arbot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbot-data",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "trade_failed"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper":   true,
	"live":    true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.EnabledVenues()) < 2 {
		errs = append(errs, "venues: at least two enabled venues are required for cross-venue arbitrage")
	}
	for name, vc := range c.Venues {
		if !vc.Enabled {
			continue
		}
		if vc.WSURL == "" {
			errs = append(errs, fmt.Sprintf("venues.%s: ws_url must not be empty", name))
		}
		if vc.RestURL == "" {
			errs = append(errs, fmt.Sprintf("venues.%s: rest_url must not be empty", name))
		}
		if vc.FeeRate < 0 || vc.FeeRate >= 1 {
			errs = append(errs, fmt.Sprintf("venues.%s: fee_rate must be in [0, 1), got %g", name, vc.FeeRate))
		}
		if strings.ToLower(c.Mode) == "live" && (vc.APIKey == "" || vc.APISecret == "") {
			errs = append(errs, fmt.Sprintf("venues.%s: api_key and api_secret are required in live mode", name))
		}
	}

	if len(c.TradingPairs()) == 0 {
		errs = append(errs, "pairs: at least one valid pair like \"BTC/USDT\" is required")
	}

	if c.Risk.MinProfitPercentage < 0 {
		errs = append(errs, "risk: min_profit_percentage must be >= 0")
	}
	if c.Risk.MaxTradeAmount <= 0 {
		errs = append(errs, "risk: max_trade_amount must be > 0")
	}
	if c.Risk.MaxExecutionTimeMs <= 0 {
		errs = append(errs, "risk: max_execution_time_ms must be > 0")
	}
	if c.Risk.MaxConcurrentTrades < 1 {
		errs = append(errs, "risk: max_concurrent_trades must be >= 1")
	}

	if c.Pool.MaxPerEndpoint < 1 {
		errs = append(errs, "pool: max_per_endpoint must be >= 1")
	}
	if c.Pool.MaxTotal < c.Pool.MaxPerEndpoint {
		errs = append(errs, "pool: max_total must be >= max_per_endpoint")
	}

	if c.Aggregator.StalenessThreshold.Duration <= 0 {
		errs = append(errs, "aggregator: staleness_threshold must be > 0")
	}
	if c.Detector.ScanInterval.Duration <= 0 {
		errs = append(errs, "detector: scan_interval must be > 0")
	}

	if strings.ToLower(c.Mode) == "paper" {
		if c.Paper.FeeRate < 0 || c.Paper.FeeRate >= 1 {
			errs = append(errs, "paper: fee_rate must be in [0, 1)")
		}
		if len(c.Paper.Balances) == 0 {
			errs = append(errs, "paper: at least one seeded balance is required")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
