package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Execution mode. Paper trading simulates fills locally and needs no
	// API keys; live trading routes orders to the exchange.
	LiveTrading bool

	// Trading Universe
	Symbols    []string // e.g. ["ETHUSDT", "BTCUSDT"]
	QuoteAsset string   // settlement asset for balance sync

	// Risk Limits
	InitialBalance         float64       // starting balance when no state is persisted
	MaxRiskPerTrade        float64       // fraction of balance risked per position
	MaxPortfolioRisk       float64       // portfolio heat ceiling
	MaxPositionPct         float64       // sizing cap on position value
	MaxPositionValuePct    float64       // admission cap on position value
	MaxConcurrentPositions int           // open position count ceiling
	MaxDailyLoss           float64       // absolute realized loss that halts new entries
	TargetDailyProfit      float64       // daily realized PNL that triggers the target notification
	MaxDailyTrades         int           // closed trades per day ceiling
	MaxSymbolTradesPerDay  int           // entries per symbol per day ceiling
	Cooldown               time.Duration // per-symbol pause after a non-winning close
	MaxCloseAttempts       int           // consecutive close failures before force-removal
	MaxPositionAge         time.Duration // age at which the reaper closes a position

	// Orchestrator Cadence
	Interval            string        // candle interval for entries and exits (e.g. "5m")
	CandleLimit         int           // candles fetched per tick
	HigherTFInterval    string        // confirmation candle interval (e.g. "4h")
	HigherTFCandleLimit int           // confirmation candles fetched per tick
	PollInterval        time.Duration // sleep between ticks
	ErrorPollInterval   time.Duration // sleep after a failed tick
	MonitorInterval     time.Duration // sleep between monitor sweeps

	// Exit Management
	MinConfidence         float64 // entry signals below this are discarded
	TakeProfitPct         float64 // exit when price gains this fraction over entry
	TrailingStopPct       float64 // trailing stop distance under the best price
	TrailingActivationPct float64 // gain required before the trailing stop arms
	PriceSanityPct        float64 // single-tick moves beyond this fraction are ignored
	StopConfirmTicks      int     // consecutive breaching ticks before a stop exit

	// Strategy
	StrategyName   string         // registry key, e.g. "momentum" or "crossover"
	StrategyParams StrategyParams // indicator and strategy tuning

	// Storage
	DBPath   string
	LockPath string

	// Logging
	LogLevel  string // debug, info, warn or error
	LogPretty bool   // console output instead of JSON
}

// StrategyParams holds the tunable strategy and indicator parameters. An
// optional YAML file pointed at by STRATEGY_CONFIG overrides the defaults;
// omitted keys keep their default values.
type StrategyParams struct {
	Analysis  AnalysisParams  `yaml:"analysis"`
	Momentum  MomentumParams  `yaml:"momentum"`
	Crossover CrossoverParams `yaml:"crossover"`
}

// AnalysisParams are the indicator periods behind every market snapshot.
type AnalysisParams struct {
	EMAFastPeriod    int     `yaml:"ema_fast_period"`
	EMASlowPeriod    int     `yaml:"ema_slow_period"`
	EMATrendPeriod   int     `yaml:"ema_trend_period"`
	RSIPeriod        int     `yaml:"rsi_period"`
	MACDFastPeriod   int     `yaml:"macd_fast_period"`
	MACDSlowPeriod   int     `yaml:"macd_slow_period"`
	MACDSignalPeriod int     `yaml:"macd_signal_period"`
	ATRPeriod        int     `yaml:"atr_period"`
	VolumePeriod     int     `yaml:"volume_period"`
	RSIOverbought    float64 `yaml:"rsi_overbought"`
	RSIOversold      float64 `yaml:"rsi_oversold"`
}

// MomentumParams tune the momentum strategy.
type MomentumParams struct {
	MinScore       float64 `yaml:"min_score"`
	RSIOverbought  float64 `yaml:"rsi_overbought"`
	MinVolumeRatio float64 `yaml:"min_volume_ratio"`
	RSIExit        float64 `yaml:"rsi_exit"`
	WeakScoreExit  float64 `yaml:"weak_score_exit"`
	LowVolumeExit  float64 `yaml:"low_volume_exit"`
	StopLossPct    float64 `yaml:"stop_loss_pct"`
	TakeProfitMult float64 `yaml:"take_profit_mult"`
	MinCandles     int     `yaml:"min_candles"`
}

// CrossoverParams tune the EMA crossover strategy.
type CrossoverParams struct {
	RSIFloor       float64 `yaml:"rsi_floor"`
	RSICeiling     float64 `yaml:"rsi_ceiling"`
	MinVolumeRatio float64 `yaml:"min_volume_ratio"`
	ATRStopMult    float64 `yaml:"atr_stop_mult"`
	TakeProfitPct  float64 `yaml:"take_profit_pct"`
	MinCandles     int     `yaml:"min_candles"`
}

// DefaultStrategyParams returns the built-in tuning used when no YAML file
// is configured.
func DefaultStrategyParams() StrategyParams {
	return StrategyParams{
		Analysis: AnalysisParams{
			EMAFastPeriod:    20,
			EMASlowPeriod:    50,
			EMATrendPeriod:   200,
			RSIPeriod:        14,
			MACDFastPeriod:   12,
			MACDSlowPeriod:   26,
			MACDSignalPeriod: 9,
			ATRPeriod:        14,
			VolumePeriod:     20,
			RSIOverbought:    70.0,
			RSIOversold:      35.0,
		},
		Momentum: MomentumParams{
			MinScore:       0.75,
			RSIOverbought:  70.0,
			MinVolumeRatio: 2.0,
			RSIExit:        75.0,
			WeakScoreExit:  0.3,
			LowVolumeExit:  0.5,
			StopLossPct:    0.05,
			TakeProfitMult: 10.0,
			MinCandles:     200,
		},
		Crossover: CrossoverParams{
			RSIFloor:       35.0,
			RSICeiling:     68.0,
			MinVolumeRatio: 1.1,
			ATRStopMult:    2.5,
			TakeProfitPct:  0.04,
			MinCandles:     200,
		},
	}
}

// LoadConfig loads configuration from environment variables (.env file) and
// the optional strategy YAML file.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.LiveTrading = getEnvAsBool("LIVE_TRADING", false)

	// Paper trading simulates fills and never signs a request, so keys are
	// only mandatory for live trading.
	if cfg.LiveTrading {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set for live trading")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set for live trading")
		}
	}

	// Trading Universe
	cfg.Symbols = getEnvAsSymbols("SYMBOLS", []string{"ETHUSDT"})
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one instrument")
	}
	cfg.QuoteAsset = strings.ToUpper(getEnv("QUOTE_ASSET", "USDT"))

	// Risk Limits
	cfg.InitialBalance = getEnvAsFloat("INITIAL_BALANCE", 10000.0, &errs)
	if cfg.InitialBalance <= 0 {
		errs = append(errs, "INITIAL_BALANCE must be positive")
	}

	cfg.MaxRiskPerTrade = getEnvAsFloat("MAX_RISK_PER_TRADE", 0.02, &errs)
	if cfg.MaxRiskPerTrade <= 0 || cfg.MaxRiskPerTrade > 0.05 {
		errs = append(errs, "MAX_RISK_PER_TRADE must be between 0.0 and 0.05")
	}

	cfg.MaxPortfolioRisk = getEnvAsFloat("MAX_PORTFOLIO_RISK", 0.15, &errs)
	if cfg.MaxPortfolioRisk <= 0 || cfg.MaxPortfolioRisk > 0.25 {
		errs = append(errs, "MAX_PORTFOLIO_RISK must be between 0.0 and 0.25")
	}

	cfg.MaxPositionPct = getEnvAsFloat("MAX_POSITION_PCT", 0.10, &errs)
	if cfg.MaxPositionPct <= 0 || cfg.MaxPositionPct >= 1.0 {
		errs = append(errs, "MAX_POSITION_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.MaxPositionValuePct = getEnvAsFloat("MAX_POSITION_VALUE_PCT", 0.20, &errs)
	if cfg.MaxPositionValuePct <= 0 || cfg.MaxPositionValuePct >= 1.0 {
		errs = append(errs, "MAX_POSITION_VALUE_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.MaxConcurrentPositions = getEnvAsInt("MAX_CONCURRENT_POSITIONS", 5, &errs)
	if cfg.MaxConcurrentPositions <= 0 {
		errs = append(errs, "MAX_CONCURRENT_POSITIONS must be positive")
	}

	cfg.MaxDailyLoss = getEnvAsFloat("MAX_DAILY_LOSS", 30.0, &errs)
	if cfg.MaxDailyLoss <= 0 {
		errs = append(errs, "MAX_DAILY_LOSS must be positive")
	}

	cfg.TargetDailyProfit = getEnvAsFloat("TARGET_DAILY_PROFIT", 50.0, &errs)
	if cfg.TargetDailyProfit <= 0 {
		errs = append(errs, "TARGET_DAILY_PROFIT must be positive")
	}

	cfg.MaxDailyTrades = getEnvAsInt("MAX_DAILY_TRADES", 25, &errs)
	if cfg.MaxDailyTrades <= 0 {
		errs = append(errs, "MAX_DAILY_TRADES must be positive")
	}

	cfg.MaxSymbolTradesPerDay = getEnvAsInt("MAX_SYMBOL_TRADES_PER_DAY", 3, &errs)
	if cfg.MaxSymbolTradesPerDay <= 0 {
		errs = append(errs, "MAX_SYMBOL_TRADES_PER_DAY must be positive")
	}

	cooldownMinutes := getEnvAsInt("COOLDOWN_MINUTES", 20, &errs)
	if cooldownMinutes <= 0 {
		errs = append(errs, "COOLDOWN_MINUTES must be positive")
	}
	cfg.Cooldown = time.Duration(cooldownMinutes) * time.Minute

	cfg.MaxCloseAttempts = getEnvAsInt("MAX_CLOSE_ATTEMPTS", 3, &errs)
	if cfg.MaxCloseAttempts <= 0 {
		errs = append(errs, "MAX_CLOSE_ATTEMPTS must be positive")
	}

	maxAgeHours := getEnvAsInt("MAX_POSITION_AGE_HOURS", 72, &errs)
	if maxAgeHours <= 0 {
		errs = append(errs, "MAX_POSITION_AGE_HOURS must be positive")
	}
	cfg.MaxPositionAge = time.Duration(maxAgeHours) * time.Hour

	// Orchestrator Cadence
	cfg.Interval = getEnv("INTERVAL", "5m")
	cfg.CandleLimit = getEnvAsInt("CANDLE_LIMIT", 200, &errs)
	if cfg.CandleLimit <= 0 {
		errs = append(errs, "CANDLE_LIMIT must be positive")
	}

	cfg.HigherTFInterval = getEnv("HIGHER_TF_INTERVAL", "4h")
	cfg.HigherTFCandleLimit = getEnvAsInt("HIGHER_TF_CANDLE_LIMIT", 60, &errs)
	if cfg.HigherTFCandleLimit <= 0 {
		errs = append(errs, "HIGHER_TF_CANDLE_LIMIT must be positive")
	}

	pollSeconds := getEnvAsInt("POLL_INTERVAL_SECONDS", 30, &errs)
	if pollSeconds <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	errorPollSeconds := getEnvAsInt("ERROR_POLL_INTERVAL_SECONDS", 60, &errs)
	if errorPollSeconds <= 0 {
		errs = append(errs, "ERROR_POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.ErrorPollInterval = time.Duration(errorPollSeconds) * time.Second

	monitorSeconds := getEnvAsInt("MONITOR_INTERVAL_SECONDS", 300, &errs)
	if monitorSeconds <= 0 {
		errs = append(errs, "MONITOR_INTERVAL_SECONDS must be positive")
	}
	cfg.MonitorInterval = time.Duration(monitorSeconds) * time.Second

	// Exit Management
	cfg.MinConfidence = getEnvAsFloat("MIN_CONFIDENCE", 0.65, &errs)
	if cfg.MinConfidence <= 0 || cfg.MinConfidence > 1.0 {
		errs = append(errs, "MIN_CONFIDENCE must be between 0.0 and 1.0")
	}

	cfg.TakeProfitPct = getEnvAsFloat("TAKE_PROFIT_PCT", 0.013, &errs)
	if cfg.TakeProfitPct <= 0 || cfg.TakeProfitPct >= 1.0 {
		errs = append(errs, "TAKE_PROFIT_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.TrailingStopPct = getEnvAsFloat("TRAILING_STOP_PCT", 0.03, &errs)
	if cfg.TrailingStopPct <= 0 || cfg.TrailingStopPct >= 1.0 {
		errs = append(errs, "TRAILING_STOP_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.TrailingActivationPct = getEnvAsFloat("TRAILING_ACTIVATION_PCT", 0.015, &errs)
	if cfg.TrailingActivationPct <= 0 || cfg.TrailingActivationPct >= 1.0 {
		errs = append(errs, "TRAILING_ACTIVATION_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.PriceSanityPct = getEnvAsFloat("PRICE_SANITY_PCT", 0.05, &errs)
	if cfg.PriceSanityPct <= 0 || cfg.PriceSanityPct >= 1.0 {
		errs = append(errs, "PRICE_SANITY_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.StopConfirmTicks = getEnvAsInt("STOP_CONFIRM_TICKS", 2, &errs)
	if cfg.StopConfirmTicks <= 0 {
		errs = append(errs, "STOP_CONFIRM_TICKS must be positive")
	}

	// Strategy
	cfg.StrategyName = strings.ToLower(getEnv("STRATEGY", "momentum"))
	params, err := loadStrategyParams(getEnv("STRATEGY_CONFIG", ""))
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.StrategyParams = params

	// Storage
	cfg.DBPath = getEnv("DB_PATH", "./data/tradepilot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	cfg.LockPath = getEnv("LOCK_PATH", "./data/tradepilot.lock")
	if cfg.LockPath == "" {
		errs = append(errs, "LOCK_PATH must be set")
	}

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogPretty = getEnvAsBool("LOG_PRETTY", false)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// loadStrategyParams reads the YAML tuning file when a path is given. Keys
// absent from the file keep their defaults, so partial overrides work.
func loadStrategyParams(path string) (StrategyParams, error) {
	params := DefaultStrategyParams()
	if path == "" {
		return params, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return params, fmt.Errorf("reading strategy config %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("parsing strategy config %s: %v", path, err)
	}
	return params, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsSymbols splits a comma-separated instrument list, trimming
// whitespace and normalising to upper case.
func getEnvAsSymbols(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var symbols []string
	for _, part := range strings.Split(valueStr, ",") {
		if s := strings.ToUpper(strings.TrimSpace(part)); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}

func getEnvAsInt(key string, defaultValue int, errs *[]string) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("invalid integer value %q for %s", valueStr, key))
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64, errs *[]string) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("invalid float value %q for %s", valueStr, key))
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
