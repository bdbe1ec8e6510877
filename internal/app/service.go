// Package app wires the exchange feed, strategies, and risk engine into the
// trading orchestrator. One goroutine polls each configured symbol on a fixed
// interval; a monitor goroutine sweeps stale positions and reports portfolio
// state. All order placement and balance mutation happens inside the risk
// engine, so the loops here stay free of financial bookkeeping.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tradepilot/internal/domain"
	"tradepilot/internal/ledger"
	"tradepilot/internal/ports"
	"tradepilot/internal/risk"
)

// Config holds the orchestrator settings. Zero values take the documented
// defaults; percentages are fractions (0.013 means 1.3%).
type Config struct {
	Symbols []string // instruments to trade, e.g. ["ETHUSDT", "BTCUSDT"]

	Interval            string        // candle interval for entries and exits (default "5m")
	CandleLimit         int           // candles fetched per tick (default 200)
	HigherTFInterval    string        // confirmation candle interval (default "4h")
	HigherTFCandleLimit int           // confirmation candles fetched per tick (default 60)
	PollInterval        time.Duration // sleep between ticks (default 30s)
	ErrorPollInterval   time.Duration // sleep after a failed tick or during a daily halt (default 60s)
	MonitorInterval     time.Duration // sleep between monitor sweeps (default 5m)

	MinConfidence         float64 // entry signals below this are discarded (default 0.65)
	TakeProfitPct         float64 // exit when price gains this fraction over entry (default 0.013)
	TrailingStopPct       float64 // trailing stop distance under the best price (default 0.03)
	TrailingActivationPct float64 // gain required before the trailing stop arms (default 0.015)
	PriceSanityPct        float64 // single-tick moves beyond this fraction are ignored (default 0.05)
	StopConfirmTicks      int     // consecutive breaching ticks before a stop exit (default 2)

	MaxDailyLoss      float64 // reported in the loss-limit notification (default 30)
	TargetDailyProfit float64 // daily realized PNL that triggers the target notification (default 50)

	LiveTrading bool   // adopt the exchange balance on start when true
	QuoteAsset  string // settlement asset for balance sync (default "USDT")

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Service orchestrates data polling, strategy evaluation, and position
// monitoring across all configured symbols.
type Service struct {
	cfg      Config
	logger   ports.Logger
	exchange ports.ExchangeClient
	analyzer ports.MarketAnalyzer
	strat    ports.Strategy
	engine   *risk.Manager
	ledger   *ledger.Ledger
	notifier ports.Notifier
	now      func() time.Time

	// Daily notification flags, reset on UTC rollover.
	flagMu         sync.Mutex
	flagDay        string
	lossNotified   bool
	profitNotified bool
}

// New validates the configuration and dependencies and returns a Service
// ready to Start.
func New(
	cfg Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	analyzer ports.MarketAnalyzer,
	strat ports.Strategy,
	engine *risk.Manager,
	ldg *ledger.Ledger,
	notifier ports.Notifier,
) (*Service, error) {
	if logger == nil || exchange == nil || analyzer == nil || strat == nil || engine == nil || ldg == nil || notifier == nil {
		return nil, fmt.Errorf("missing required dependencies for app.Service")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	for _, symbol := range cfg.Symbols {
		if symbol == "" {
			return nil, fmt.Errorf("symbols must not be empty strings")
		}
	}

	if cfg.Interval == "" {
		cfg.Interval = "5m"
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 200
	}
	if cfg.HigherTFInterval == "" {
		cfg.HigherTFInterval = "4h"
	}
	if cfg.HigherTFCandleLimit <= 0 {
		cfg.HigherTFCandleLimit = 60
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.ErrorPollInterval <= 0 {
		cfg.ErrorPollInterval = 60 * time.Second
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 5 * time.Minute
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.65
	}
	if cfg.TakeProfitPct <= 0 {
		cfg.TakeProfitPct = 0.013
	}
	if cfg.TrailingStopPct <= 0 {
		cfg.TrailingStopPct = 0.03
	}
	if cfg.TrailingActivationPct <= 0 {
		cfg.TrailingActivationPct = 0.015
	}
	if cfg.PriceSanityPct <= 0 {
		cfg.PriceSanityPct = 0.05
	}
	if cfg.StopConfirmTicks <= 0 {
		cfg.StopConfirmTicks = 2
	}
	if cfg.MaxDailyLoss <= 0 {
		cfg.MaxDailyLoss = 30
	}
	if cfg.TargetDailyProfit <= 0 {
		cfg.TargetDailyProfit = 50
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("MinConfidence must not exceed 1")
	}
	if cfg.TakeProfitPct >= 1 {
		return nil, fmt.Errorf("TakeProfitPct must be below 1")
	}
	if cfg.TrailingStopPct >= 1 {
		return nil, fmt.Errorf("TrailingStopPct must be below 1")
	}
	if cfg.TrailingActivationPct >= 1 {
		return nil, fmt.Errorf("TrailingActivationPct must be below 1")
	}
	if cfg.PriceSanityPct >= 1 {
		return nil, fmt.Errorf("PriceSanityPct must be below 1")
	}
	required := analyzer.RequiredDataPoints()
	if sp := strat.RequiredDataPoints(); sp > required {
		required = sp
	}
	if cfg.CandleLimit < required {
		return nil, fmt.Errorf("CandleLimit %d is below the %d candles the strategy requires", cfg.CandleLimit, required)
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		exchange: exchange,
		analyzer: analyzer,
		strat:    strat,
		engine:   engine,
		ledger:   ldg,
		notifier: notifier,
		now:      cfg.Now,
	}
	s.flagDay = s.now().UTC().Format("2006-01-02")
	return s, nil
}

// Start connects to the exchange, restores persisted state, and runs the
// per-symbol trading loops plus the monitor until the context is canceled or
// a SIGINT/SIGTERM arrives. Blocks until all loops have drained.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.exchange.Ping(ctx); err != nil {
		s.logger.Error(ctx, err, "Exchange is unreachable")
		return fmt.Errorf("exchange ping: %w", err)
	}
	if err := s.exchange.SyncServerTime(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to synchronize server time")
		return fmt.Errorf("sync server time: %w", err)
	}
	if err := s.engine.Restore(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to restore portfolio state")
		return fmt.Errorf("restore state: %w", err)
	}
	if s.cfg.LiveTrading {
		if err := s.engine.SyncBalanceFromExchange(ctx, s.cfg.QuoteAsset); err != nil {
			s.logger.Error(ctx, err, "Failed to adopt exchange balance", map[string]interface{}{"asset": s.cfg.QuoteAsset})
			return fmt.Errorf("sync balance: %w", err)
		}
	}

	mode := "paper"
	if s.cfg.LiveTrading {
		mode = "live"
	}
	s.logger.Info(ctx, "Trading service started", map[string]interface{}{
		"mode":     mode,
		"symbols":  s.cfg.Symbols,
		"interval": s.cfg.Interval,
		"balance":  s.engine.Balance(),
	})

	var wg sync.WaitGroup
	for _, symbol := range s.cfg.Symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			s.symbolLoop(ctx, symbol)
		}(symbol)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.monitorLoop(ctx)
	}()

	<-ctx.Done()
	s.logger.Info(ctx, "Shutting down, waiting for trading loops to stop")
	wg.Wait()
	s.logger.Info(ctx, "Trading service stopped")
	return nil
}

// symbolLoop runs the poll-evaluate-act cycle for one symbol until the
// context is canceled. Failed ticks and daily halts back off to the error
// interval.
func (s *Service) symbolLoop(ctx context.Context, symbol string) {
	s.logger.Info(ctx, "Symbol loop started", map[string]interface{}{"symbol": symbol})
	var stopBreaches int
	for {
		delay := s.cfg.PollInterval
		if s.haltedForTheDay(ctx, symbol) {
			delay = s.cfg.ErrorPollInterval
		} else if err := s.tick(ctx, symbol, &stopBreaches); err != nil {
			delay = s.cfg.ErrorPollInterval
		}
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Symbol loop stopped", map[string]interface{}{"symbol": symbol})
			return
		case <-time.After(delay):
		}
	}
}

// haltedForTheDay reports whether the symbol's loop should idle because the
// daily loss limit is breached and it has no position to manage. A symbol
// with an open position keeps ticking so its exits stay active.
func (s *Service) haltedForTheDay(ctx context.Context, symbol string) bool {
	if s.ledger.Get(symbol) != nil {
		return false
	}
	if !s.engine.DailyLossLimitReached(ctx) {
		return false
	}
	s.notifyLossLimit(ctx)
	return true
}

// tick fetches market data for one symbol, then either manages the open
// position or evaluates a new entry. The returned error selects the error
// backoff; per-position problems are handled in place and do not surface.
func (s *Service) tick(ctx context.Context, symbol string, stopBreaches *int) error {
	candles, err := s.exchange.LatestCandles(ctx, symbol, s.cfg.Interval, s.cfg.CandleLimit)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to fetch candles", map[string]interface{}{"symbol": symbol, "interval": s.cfg.Interval})
		return err
	}
	price, err := s.exchange.LatestPrice(ctx, symbol)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to fetch price", map[string]interface{}{"symbol": symbol})
		return err
	}

	snapshot, err := s.analyzer.Snapshot(ctx, symbol, candles, price)
	if err != nil {
		s.logger.Warn(ctx, "Market snapshot unavailable", map[string]interface{}{"symbol": symbol, "reason": err.Error()})
		return err
	}

	htf, err := s.exchange.LatestCandles(ctx, symbol, s.cfg.HigherTFInterval, s.cfg.HigherTFCandleLimit)
	if err != nil {
		// Trade without confirmation rather than stall the loop.
		s.logger.Warn(ctx, "Higher timeframe data unavailable, skipping confirmation", map[string]interface{}{
			"symbol":   symbol,
			"interval": s.cfg.HigherTFInterval,
			"reason":   err.Error(),
		})
	} else {
		snapshot.HigherTF = s.analyzer.HigherTF(ctx, htf)
	}

	if pos := s.ledger.Get(symbol); pos != nil {
		s.managePosition(ctx, pos, snapshot, price, stopBreaches)
		return nil
	}
	*stopBreaches = 0
	s.evaluateEntry(ctx, symbol, snapshot)
	return nil
}

// managePosition walks the exit checks for an open position in priority
// order: stop loss, take profit, trailing stop, then the strategy's own exit.
// The first trigger wins and the rest are not consulted.
func (s *Service) managePosition(ctx context.Context, pos *domain.Position, snapshot *domain.MarketSnapshot, price float64, stopBreaches *int) {
	symbol := pos.Symbol

	if pos.CurrentPrice > 0 {
		move := math.Abs(price-pos.CurrentPrice) / pos.CurrentPrice
		if move > s.cfg.PriceSanityPct {
			s.logger.Warn(ctx, "Ignoring implausible price move", map[string]interface{}{
				"symbol":    symbol,
				"lastPrice": pos.CurrentPrice,
				"price":     price,
				"movePct":   move * 100,
			})
			return
		}
	}

	updated, err := s.ledger.UpdatePrice(symbol, price)
	if err != nil {
		// The monitor can reap the position between Get and here.
		s.logger.Debug(ctx, "Position gone before price update", map[string]interface{}{"symbol": symbol})
		return
	}
	pos = updated

	if stopBreached(pos, price) {
		*stopBreaches++
		if *stopBreaches < s.cfg.StopConfirmTicks {
			s.logger.Debug(ctx, "Stop level breached, awaiting confirmation", map[string]interface{}{
				"symbol":   symbol,
				"price":    price,
				"stopLoss": pos.StopLoss,
				"breaches": *stopBreaches,
			})
			return
		}
		*stopBreaches = 0
		s.closePosition(ctx, symbol, pos.StopLoss, domain.CloseReasonStopLoss)
		return
	}
	*stopBreaches = 0

	if target := takeProfitLevel(pos, s.cfg.TakeProfitPct); takeProfitHit(pos, price, target) {
		s.closePosition(ctx, symbol, target, domain.CloseReasonTakeProfit)
		return
	}

	if trailingActive(pos, price, s.cfg.TrailingActivationPct) {
		level, err := s.ledger.RaiseTrailingStop(symbol, trailingLevel(pos, s.cfg.TrailingStopPct))
		if err == nil && level != pos.TrailingStop {
			s.logger.Debug(ctx, "Trailing stop tightened", map[string]interface{}{
				"symbol":       symbol,
				"trailingStop": level,
				"bestPrice":    pos.HighestPrice,
			})
			pos.TrailingStop = level
		}
	}
	if pos.TrailingStop > 0 && trailingBreached(pos, price) {
		s.closePosition(ctx, symbol, pos.TrailingStop, domain.CloseReasonTrailingStop)
		return
	}

	if shouldClose, reason := s.strat.EvaluateExit(ctx, snapshot, pos); shouldClose {
		s.closePosition(ctx, symbol, price, reason)
	}
}

// evaluateEntry runs the entry gates for a symbol with no open position and
// hands qualifying signals to the risk engine.
func (s *Service) evaluateEntry(ctx context.Context, symbol string, snapshot *domain.MarketSnapshot) {
	if s.engine.DailyLossLimitReached(ctx) {
		s.notifyLossLimit(ctx)
		return
	}
	s.notifyProfitTarget(ctx)

	if s.engine.InCooldown(ctx, symbol) {
		s.logger.Debug(ctx, "Symbol in cooldown, skipping entry", map[string]interface{}{"symbol": symbol})
		return
	}
	if !s.engine.HasHeadroom() {
		s.logger.Debug(ctx, "Concurrent position limit reached, skipping entry", map[string]interface{}{"symbol": symbol})
		return
	}

	signal, ok := s.strat.EvaluateEntry(ctx, snapshot)
	if !ok {
		return
	}
	if signal.Confidence < s.cfg.MinConfidence {
		s.logger.Info(ctx, "Entry signal below confidence threshold", map[string]interface{}{
			"symbol":     symbol,
			"strategy":   signal.Strategy,
			"confidence": signal.Confidence,
			"threshold":  s.cfg.MinConfidence,
		})
		return
	}

	if _, err := s.engine.ExecuteEntry(ctx, signal, snapshot.ATRPct); err != nil {
		if errors.Is(err, risk.ErrEntryRejected) {
			s.logger.Debug(ctx, "Entry rejected by risk policy", map[string]interface{}{"symbol": symbol})
			return
		}
		s.logger.Error(ctx, err, "Failed to open position", map[string]interface{}{"symbol": symbol})
	}
}

// closePosition asks the risk engine to close and pushes the notification
// for the realized trade. Concurrent close attempts on the same symbol are
// expected and ignored.
func (s *Service) closePosition(ctx context.Context, symbol string, exitPrice float64, reason domain.CloseReason) {
	trade, err := s.engine.ClosePosition(ctx, symbol, exitPrice, reason)
	if err != nil {
		if errors.Is(err, risk.ErrCloseInFlight) {
			s.logger.Debug(ctx, "Close already in progress", map[string]interface{}{"symbol": symbol})
			return
		}
		s.logger.Error(ctx, err, "Failed to close position", map[string]interface{}{
			"symbol": symbol,
			"reason": string(reason),
		})
		return
	}
	if trade == nil {
		return
	}
	s.notifier.PositionClosed(ctx, trade)
}

// monitorLoop periodically reaps stale positions, fires the daily
// notifications, and logs the portfolio summary.
func (s *Service) monitorLoop(ctx context.Context) {
	s.logger.Info(ctx, "Position monitor started", map[string]interface{}{"interval": s.cfg.MonitorInterval.String()})
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Position monitor stopped")
			return
		case <-time.After(s.cfg.MonitorInterval):
		}

		for _, trade := range s.engine.ReapStalePositions(ctx) {
			s.notifier.PositionClosed(ctx, trade)
		}

		if s.engine.DailyLossLimitReached(ctx) {
			s.notifyLossLimit(ctx)
		}
		s.notifyProfitTarget(ctx)

		summary := s.engine.Summary(ctx)
		s.logger.Info(ctx, "Portfolio summary", map[string]interface{}{
			"balance":       summary.Balance,
			"openPositions": summary.OpenPositions,
			"unrealizedPnl": summary.UnrealizedPNL,
			"portfolioHeat": summary.PortfolioHeat,
			"dailyPnl":      summary.DailyPNL,
			"dailyTrades":   summary.DailyTrades,
			"totalPnl":      summary.TotalPNL,
			"winRate":       summary.WinRate,
		})
	}
}

// notifyLossLimit pushes the loss-limit notification once per UTC day.
func (s *Service) notifyLossLimit(ctx context.Context) {
	pnl := s.engine.DailyPNL(ctx)
	if !s.markNotified(&s.lossNotified) {
		return
	}
	s.logger.Warn(ctx, "Daily loss limit reached, entries halted until rollover", map[string]interface{}{
		"dailyPnl": pnl,
		"limit":    s.cfg.MaxDailyLoss,
	})
	s.notifier.DailyLossLimitReached(ctx, pnl, s.cfg.MaxDailyLoss)
}

// notifyProfitTarget pushes the profit-target notification once per UTC day.
// Trading continues after the target is hit.
func (s *Service) notifyProfitTarget(ctx context.Context) {
	pnl := s.engine.DailyPNL(ctx)
	if pnl < s.cfg.TargetDailyProfit {
		return
	}
	if !s.markNotified(&s.profitNotified) {
		return
	}
	s.logger.Info(ctx, "Daily profit target reached", map[string]interface{}{
		"dailyPnl": pnl,
		"target":   s.cfg.TargetDailyProfit,
	})
	s.notifier.DailyProfitTargetReached(ctx, pnl, s.cfg.TargetDailyProfit)
}

// markNotified flips the given daily flag, resetting both flags first when
// the UTC day has changed. Returns true when the caller should emit the
// notification.
func (s *Service) markNotified(flag *bool) bool {
	s.flagMu.Lock()
	defer s.flagMu.Unlock()
	today := s.now().UTC().Format("2006-01-02")
	if s.flagDay != today {
		s.flagDay = today
		s.lossNotified = false
		s.profitNotified = false
	}
	if *flag {
		return false
	}
	*flag = true
	return true
}

func stopBreached(pos *domain.Position, price float64) bool {
	if pos.StopLoss <= 0 {
		return false
	}
	if pos.Side == domain.Buy {
		return price <= pos.StopLoss
	}
	return price >= pos.StopLoss
}

// takeProfitLevel is the orchestrator's percent target over entry. Strategy
// take-profit levels that are intentionally unreachable leave this target and
// the trailing stop to govern the exit.
func takeProfitLevel(pos *domain.Position, pct float64) float64 {
	if pos.Side == domain.Buy {
		return pos.EntryPrice * (1 + pct)
	}
	return pos.EntryPrice * (1 - pct)
}

func takeProfitHit(pos *domain.Position, price, target float64) bool {
	if pos.Side == domain.Buy {
		return price >= target
	}
	return price <= target
}

func trailingActive(pos *domain.Position, price, activationPct float64) bool {
	if pos.Side == domain.Buy {
		return price >= pos.EntryPrice*(1+activationPct)
	}
	return price <= pos.EntryPrice*(1-activationPct)
}

// trailingLevel computes the desired trailing stop from the position's best
// favorable price. The ledger clamps it so the stop never loosens.
func trailingLevel(pos *domain.Position, trailPct float64) float64 {
	if pos.Side == domain.Buy {
		return pos.HighestPrice * (1 - trailPct)
	}
	return pos.HighestPrice * (1 + trailPct)
}

func trailingBreached(pos *domain.Position, price float64) bool {
	if pos.Side == domain.Buy {
		return price <= pos.TrailingStop
	}
	return price >= pos.TrailingStop
}
