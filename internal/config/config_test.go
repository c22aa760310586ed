package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openarb/arbot/internal/domain"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "paper", cfg.Mode)
	assert.Len(t, cfg.TradingPairs(), 2)
	assert.ElementsMatch(t, []string{"binance", "coinbase"}, cfg.EnabledVenues())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Pairs = nil
	cfg.Risk.MaxTradeAmount = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "pairs:")
	assert.Contains(t, err.Error(), "max_trade_amount")
}

func TestValidateRequiresTwoVenues(t *testing.T) {
	cfg := Defaults()
	v := cfg.Venues["coinbase"]
	v.Enabled = false
	cfg.Venues["coinbase"] = v

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least two enabled venues")
}

func TestValidateLiveModeNeedsCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key and api_secret are required in live mode")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
mode = "monitor"
pairs = ["SOL/USDT"]

[risk]
min_profit_percentage = 0.25

[detector]
scan_interval = "2s"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, []domain.TradingPair{domain.NewTradingPair("SOL", "USDT")}, cfg.TradingPairs())
	assert.Equal(t, 0.25, cfg.Risk.MinProfitPercentage)
	assert.Equal(t, 2*time.Second, cfg.Detector.ScanInterval.Duration)
	// Untouched sections keep their defaults.
	assert.Equal(t, int64(5000), cfg.Risk.MaxExecutionTimeMs)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "paper"`), 0o600))

	t.Setenv("ARBOT_MODE", "monitor")
	t.Setenv("ARBOT_RISK_MAX_TRADE_AMOUNT", "250.5")
	t.Setenv("ARBOT_VENUE_BINANCE_API_KEY", "key-from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 250.5, cfg.Risk.MaxTradeAmount)
	assert.Equal(t, "key-from-env", cfg.Venues["binance"].APIKey)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	v := cfg.Venues["binance"]
	v.APISecret = "super-secret"
	cfg.Venues["binance"] = v
	cfg.Postgres.Password = "hunter2"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Venues["binance"].APISecret)
	assert.Equal(t, "***", red.Postgres.Password)
	// The original is untouched.
	assert.Equal(t, "super-secret", cfg.Venues["binance"].APISecret)
}

func TestRiskSourceReload(t *testing.T) {
	src := NewRiskSource(domain.RiskProfile{MinProfitPercentage: 0.1})
	assert.Equal(t, 0.1, src.Current().MinProfitPercentage)

	src.Reload(domain.RiskProfile{MinProfitPercentage: 0.5})
	assert.Equal(t, 0.5, src.Current().MinProfitPercentage)
}
