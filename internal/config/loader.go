package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file. Venue credentials use ARBOT_VENUE_<NAME>_API_KEY / _API_SECRET.
func applyEnvOverrides(cfg *Config) {
	// ── Venues ──
	for name, vc := range cfg.Venues {
		prefix := "ARBOT_VENUE_" + strings.ToUpper(name)
		setStr(&vc.APIKey, prefix+"_API_KEY")
		setStr(&vc.APISecret, prefix+"_API_SECRET")
		setStr(&vc.WSURL, prefix+"_WS_URL")
		setStr(&vc.RestURL, prefix+"_REST_URL")
		setFloat64(&vc.FeeRate, prefix+"_FEE_RATE")
		setBool(&vc.Enabled, prefix+"_ENABLED")
		cfg.Venues[name] = vc
	}

	// ── Risk ──
	setFloat64(&cfg.Risk.MinProfitPercentage, "ARBOT_RISK_MIN_PROFIT_PERCENTAGE")
	setFloat64(&cfg.Risk.MaxTradeAmount, "ARBOT_RISK_MAX_TRADE_AMOUNT")
	setFloat64(&cfg.Risk.MaxSlippagePercentage, "ARBOT_RISK_MAX_SLIPPAGE_PERCENTAGE")
	setInt64(&cfg.Risk.MaxExecutionTimeMs, "ARBOT_RISK_MAX_EXECUTION_TIME_MS")
	setInt(&cfg.Risk.MaxConcurrentTrades, "ARBOT_RISK_MAX_CONCURRENT_TRADES")
	setFloat64(&cfg.Risk.DailyLossLimitPercent, "ARBOT_RISK_DAILY_LOSS_LIMIT_PERCENT")

	// ── Detector / aggregator / pool ──
	setDuration(&cfg.Detector.ScanInterval, "ARBOT_DETECTOR_SCAN_INTERVAL")
	setBool(&cfg.Detector.IncludeStale, "ARBOT_DETECTOR_INCLUDE_STALE")
	setDuration(&cfg.Aggregator.StalenessThreshold, "ARBOT_AGGREGATOR_STALENESS_THRESHOLD")
	setDuration(&cfg.Aggregator.PollInterval, "ARBOT_AGGREGATOR_POLL_INTERVAL")
	setInt(&cfg.Aggregator.UpdateBuffer, "ARBOT_AGGREGATOR_UPDATE_BUFFER")
	setDuration(&cfg.Aggregator.ReconnectInitialDelay, "ARBOT_AGGREGATOR_RECONNECT_INITIAL_DELAY")
	setDuration(&cfg.Aggregator.ReconnectMaxDelay, "ARBOT_AGGREGATOR_RECONNECT_MAX_DELAY")
	setInt(&cfg.Pool.MaxPerEndpoint, "ARBOT_POOL_MAX_PER_ENDPOINT")
	setInt(&cfg.Pool.MaxTotal, "ARBOT_POOL_MAX_TOTAL")

	// ── Paper ──
	setFloat64(&cfg.Paper.FeeRate, "ARBOT_PAPER_FEE_RATE")
	setFloat64(&cfg.Paper.SlippageBps, "ARBOT_PAPER_SLIPPAGE_BPS")
	setDuration(&cfg.Paper.Latency, "ARBOT_PAPER_LATENCY")

	// ── Events ──
	setInt(&cfg.Events.QueueSize, "ARBOT_EVENTS_QUEUE_SIZE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBOT_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStringSlice(&cfg.Pairs, "ARBOT_PAIRS")
	setStr(&cfg.Mode, "ARBOT_MODE")
	setStr(&cfg.LogLevel, "ARBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
