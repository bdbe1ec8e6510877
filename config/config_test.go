package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// configKeys lists every environment variable LoadConfig reads. Tests pin
// them all so a developer's real environment cannot leak into assertions.
var configKeys = []string{
	"BINANCE_API_KEY", "BINANCE_API_SECRET", "IS_TESTNET", "LIVE_TRADING",
	"SYMBOLS", "QUOTE_ASSET",
	"INITIAL_BALANCE", "MAX_RISK_PER_TRADE", "MAX_PORTFOLIO_RISK",
	"MAX_POSITION_PCT", "MAX_POSITION_VALUE_PCT", "MAX_CONCURRENT_POSITIONS",
	"MAX_DAILY_LOSS", "TARGET_DAILY_PROFIT", "MAX_DAILY_TRADES",
	"MAX_SYMBOL_TRADES_PER_DAY", "COOLDOWN_MINUTES", "MAX_CLOSE_ATTEMPTS",
	"MAX_POSITION_AGE_HOURS",
	"INTERVAL", "CANDLE_LIMIT", "HIGHER_TF_INTERVAL", "HIGHER_TF_CANDLE_LIMIT",
	"POLL_INTERVAL_SECONDS", "ERROR_POLL_INTERVAL_SECONDS", "MONITOR_INTERVAL_SECONDS",
	"MIN_CONFIDENCE", "TAKE_PROFIT_PCT", "TRAILING_STOP_PCT",
	"TRAILING_ACTIVATION_PCT", "PRICE_SANITY_PCT", "STOP_CONFIRM_TICKS",
	"STRATEGY", "STRATEGY_CONFIG", "DB_PATH", "LOCK_PATH",
	"LOG_LEVEL", "LOG_PRETTY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsTestnet)
	assert.False(t, cfg.LiveTrading)
	assert.Equal(t, []string{"ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, "USDT", cfg.QuoteAsset)

	assert.Equal(t, 10000.0, cfg.InitialBalance)
	assert.Equal(t, 0.02, cfg.MaxRiskPerTrade)
	assert.Equal(t, 0.15, cfg.MaxPortfolioRisk)
	assert.Equal(t, 5, cfg.MaxConcurrentPositions)
	assert.Equal(t, 20*time.Minute, cfg.Cooldown)
	assert.Equal(t, 72*time.Hour, cfg.MaxPositionAge)

	assert.Equal(t, "5m", cfg.Interval)
	assert.Equal(t, 200, cfg.CandleLimit)
	assert.Equal(t, "4h", cfg.HigherTFInterval)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.MonitorInterval)

	assert.Equal(t, 0.65, cfg.MinConfidence)
	assert.Equal(t, 0.013, cfg.TakeProfitPct)
	assert.Equal(t, 2, cfg.StopConfirmTicks)

	assert.Equal(t, "momentum", cfg.StrategyName)
	assert.Equal(t, DefaultStrategyParams(), cfg.StrategyParams)

	assert.Equal(t, "./data/tradepilot.db", cfg.DBPath)
	assert.Equal(t, "./data/tradepilot.lock", cfg.LockPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogPretty)
}

func TestLoadConfigLiveTradingRequiresKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("LIVE_TRADING", "true")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BINANCE_API_KEY must be set for live trading")
	assert.Contains(t, err.Error(), "BINANCE_API_SECRET must be set for live trading")

	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.LiveTrading)
}

func TestLoadConfigSymbolList(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYMBOLS", "ethusdt, BTCUSDT ,,solusdt")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHUSDT", "BTCUSDT", "SOLUSDT"}, cfg.Symbols)
}

func TestLoadConfigCollectsValidationErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_RISK_PER_TRADE", "0.5")
	t.Setenv("MAX_PORTFOLIO_RISK", "0.9")
	t.Setenv("POLL_INTERVAL_SECONDS", "not-a-number")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "MAX_RISK_PER_TRADE must be between 0.0 and 0.05")
	assert.Contains(t, err.Error(), "MAX_PORTFOLIO_RISK must be between 0.0 and 0.25")
	assert.Contains(t, err.Error(), `invalid integer value "not-a-number" for POLL_INTERVAL_SECONDS`)
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("COOLDOWN_MINUTES", "5")
	t.Setenv("MAX_POSITION_AGE_HOURS", "12")
	t.Setenv("POLL_INTERVAL_SECONDS", "10")
	t.Setenv("MIN_CONFIDENCE", "0.8")
	t.Setenv("STRATEGY", "Crossover")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Cooldown)
	assert.Equal(t, 12*time.Hour, cfg.MaxPositionAge)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 0.8, cfg.MinConfidence)
	assert.Equal(t, "crossover", cfg.StrategyName)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigStrategyParamsFromYAML(t *testing.T) {
	clearEnv(t)

	yamlBody := `
analysis:
  ema_fast_period: 10
  ema_slow_period: 30
momentum:
  min_score: 0.6
  min_volume_ratio: 1.5
`
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))
	t.Setenv("STRATEGY_CONFIG", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	// Overridden keys take the file values.
	assert.Equal(t, 10, cfg.StrategyParams.Analysis.EMAFastPeriod)
	assert.Equal(t, 30, cfg.StrategyParams.Analysis.EMASlowPeriod)
	assert.Equal(t, 0.6, cfg.StrategyParams.Momentum.MinScore)
	assert.Equal(t, 1.5, cfg.StrategyParams.Momentum.MinVolumeRatio)

	// Omitted keys keep their defaults.
	defaults := DefaultStrategyParams()
	assert.Equal(t, defaults.Analysis.EMATrendPeriod, cfg.StrategyParams.Analysis.EMATrendPeriod)
	assert.Equal(t, defaults.Momentum.StopLossPct, cfg.StrategyParams.Momentum.StopLossPct)
	assert.Equal(t, defaults.Crossover, cfg.StrategyParams.Crossover)
}

func TestLoadConfigStrategyParamsFileErrors(t *testing.T) {
	clearEnv(t)

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("STRATEGY_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading strategy config")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("momentum: [not a map"), 0o644))
		t.Setenv("STRATEGY_CONFIG", path)
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing strategy config")
	})
}
