package main

import (
	"context"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"tradepilot/config"
	"tradepilot/internal/adapters/binanceclient"
	"tradepilot/internal/adapters/logger"
	"tradepilot/internal/adapters/notifier"
	"tradepilot/internal/adapters/paper"
	"tradepilot/internal/adapters/sqlite"
	"tradepilot/internal/app"
	"tradepilot/internal/ledger"
	"tradepilot/internal/lockfile"
	"tradepilot/internal/ports"
	"tradepilot/internal/risk"
	"tradepilot/internal/strategy"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Acquire the Instance Lock
	lock, err := lockfile.Acquire(cfg.LockPath, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to acquire instance lock")
		log.Fatalf("FATAL: Failed to acquire instance lock: %v", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			appLogger.Error(ctx, err, "Error releasing instance lock")
		}
	}()

	// 4. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized")

	// 5. Initialize Exchange Client. The Binance client is always built:
	// live mode trades through it directly, paper mode uses it as the
	// market data source behind the simulated fills.
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	var exchange ports.ExchangeClient = binanceClient
	if !cfg.LiveTrading {
		paperExchange, err := paper.New(paper.Config{
			Data:            binanceClient,
			Logger:          appLogger,
			StartingBalance: cfg.InitialBalance,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize paper exchange")
			log.Fatalf("FATAL: Failed to initialize paper exchange: %v", err)
		}
		exchange = paperExchange
		appLogger.Info(ctx, "Paper trading mode, orders are simulated")
	} else {
		appLogger.Info(ctx, "Live trading mode", map[string]interface{}{"testnet": cfg.IsTestnet})
	}

	// 6. Initialize Notifier
	notify, err := notifier.NewLogNotifier(appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize notifier")
		log.Fatalf("FATAL: Failed to initialize notifier: %v", err)
	}

	// 7. Initialize Market Analyzer and Strategy
	analyzer, err := strategy.NewAnalyzer(strategy.AnalysisConfig{
		EMAFastPeriod:    cfg.StrategyParams.Analysis.EMAFastPeriod,
		EMASlowPeriod:    cfg.StrategyParams.Analysis.EMASlowPeriod,
		EMATrendPeriod:   cfg.StrategyParams.Analysis.EMATrendPeriod,
		RSIPeriod:        cfg.StrategyParams.Analysis.RSIPeriod,
		MACDFastPeriod:   cfg.StrategyParams.Analysis.MACDFastPeriod,
		MACDSlowPeriod:   cfg.StrategyParams.Analysis.MACDSlowPeriod,
		MACDSignalPeriod: cfg.StrategyParams.Analysis.MACDSignalPeriod,
		ATRPeriod:        cfg.StrategyParams.Analysis.ATRPeriod,
		VolumePeriod:     cfg.StrategyParams.Analysis.VolumePeriod,
		RSIOverbought:    cfg.StrategyParams.Analysis.RSIOverbought,
		RSIOversold:      cfg.StrategyParams.Analysis.RSIOversold,
	}, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize market analyzer")
		log.Fatalf("FATAL: Failed to initialize market analyzer: %v", err)
	}

	strat, err := buildStrategy(cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading strategy")
		log.Fatalf("FATAL: Failed to initialize trading strategy: %v", err)
	}
	appLogger.Info(ctx, "Trading strategy initialized", map[string]interface{}{"strategy": strat.Name()})

	// 8. Initialize Position Ledger and Risk Engine
	positions := ledger.New()
	engine, err := risk.New(risk.Config{
		InitialBalance:         cfg.InitialBalance,
		MaxRiskPerTrade:        cfg.MaxRiskPerTrade,
		MaxPortfolioRisk:       cfg.MaxPortfolioRisk,
		MaxPositionPct:         cfg.MaxPositionPct,
		MaxPositionValuePct:    cfg.MaxPositionValuePct,
		MaxConcurrentPositions: cfg.MaxConcurrentPositions,
		MaxDailyLoss:           cfg.MaxDailyLoss,
		MaxDailyTrades:         cfg.MaxDailyTrades,
		MaxSymbolTradesPerDay:  cfg.MaxSymbolTradesPerDay,
		Cooldown:               cfg.Cooldown,
		MaxCloseAttempts:       cfg.MaxCloseAttempts,
		MaxPositionAge:         cfg.MaxPositionAge,
	}, appLogger, exchange, repo, positions, notify)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize risk engine")
		log.Fatalf("FATAL: Failed to initialize risk engine: %v", err)
	}

	// 9. Initialize Application Service
	service, err := app.New(app.Config{
		Symbols:               cfg.Symbols,
		Interval:              cfg.Interval,
		CandleLimit:           cfg.CandleLimit,
		HigherTFInterval:      cfg.HigherTFInterval,
		HigherTFCandleLimit:   cfg.HigherTFCandleLimit,
		PollInterval:          cfg.PollInterval,
		ErrorPollInterval:     cfg.ErrorPollInterval,
		MonitorInterval:       cfg.MonitorInterval,
		MinConfidence:         cfg.MinConfidence,
		TakeProfitPct:         cfg.TakeProfitPct,
		TrailingStopPct:       cfg.TrailingStopPct,
		TrailingActivationPct: cfg.TrailingActivationPct,
		PriceSanityPct:        cfg.PriceSanityPct,
		StopConfirmTicks:      cfg.StopConfirmTicks,
		MaxDailyLoss:          cfg.MaxDailyLoss,
		TargetDailyProfit:     cfg.TargetDailyProfit,
		LiveTrading:           cfg.LiveTrading,
		QuoteAsset:            cfg.QuoteAsset,
	}, appLogger, exchange, analyzer, strat, engine, positions, notify)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}

	// 10. Start the Service
	if err := service.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Trading service exited with error")
		log.Fatalf("FATAL: Trading service exited with error: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}

// buildStrategy constructs the strategy selected by name, tuned from the
// loaded parameters.
func buildStrategy(cfg *config.Config, appLogger ports.Logger) (ports.Strategy, error) {
	switch cfg.StrategyName {
	case "momentum":
		return strategy.NewMomentum(strategy.MomentumConfig{
			MinScore:       cfg.StrategyParams.Momentum.MinScore,
			RSIOverbought:  cfg.StrategyParams.Momentum.RSIOverbought,
			MinVolumeRatio: cfg.StrategyParams.Momentum.MinVolumeRatio,
			RSIExit:        cfg.StrategyParams.Momentum.RSIExit,
			WeakScoreExit:  cfg.StrategyParams.Momentum.WeakScoreExit,
			LowVolumeExit:  cfg.StrategyParams.Momentum.LowVolumeExit,
			StopLossPct:    cfg.StrategyParams.Momentum.StopLossPct,
			TakeProfitMult: cfg.StrategyParams.Momentum.TakeProfitMult,
			MinCandles:     cfg.StrategyParams.Momentum.MinCandles,
		}, appLogger)
	case "crossover":
		return strategy.NewCrossover(strategy.CrossoverConfig{
			RSIFloor:       cfg.StrategyParams.Crossover.RSIFloor,
			RSICeiling:     cfg.StrategyParams.Crossover.RSICeiling,
			MinVolumeRatio: cfg.StrategyParams.Crossover.MinVolumeRatio,
			ATRStopMult:    cfg.StrategyParams.Crossover.ATRStopMult,
			TakeProfitPct:  cfg.StrategyParams.Crossover.TakeProfitPct,
			MinCandles:     cfg.StrategyParams.Crossover.MinCandles,
		}, appLogger)
	default:
		return nil, fmt.Errorf("unknown strategy %q (supported: momentum, crossover)", cfg.StrategyName)
	}
}
