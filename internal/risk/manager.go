// Package risk implements portfolio risk management: position sizing,
// entry admission control, the single close path that mutates financial
// state, anti-churn cooldowns, and the stale position reaper.
//
// Sizing and admission are pure reads. ClosePosition is the only writer
// of balance, daily P&L, win/loss counters, and cooldowns; that
// single-writer discipline keeps the counters consistent while the
// per-symbol loops and the monitor goroutine run concurrently.
package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"tradepilot/internal/domain"
	"tradepilot/internal/ledger"
	"tradepilot/internal/ports"
)

// ErrEntryRejected marks entries refused by policy (admission, cooldown,
// or fail-closed sizing) rather than by infrastructure failure. Callers
// branch on errors.Is to log these quietly instead of as faults.
var ErrEntryRejected = errors.New("entry rejected by risk policy")

// ErrCloseInFlight is returned when a close for the same symbol is
// already running, typically the monitor reaper racing a symbol loop.
var ErrCloseInFlight = errors.New("close already in progress")

// Config holds the risk policy. All thresholds are required unless
// noted; fractions are of current balance.
type Config struct {
	InitialBalance         float64       // starting balance when no state is persisted
	MaxRiskPerTrade        float64       // fraction of balance risked per position (e.g. 0.02)
	MaxPortfolioRisk       float64       // portfolio heat ceiling (e.g. 0.15)
	MaxPositionPct         float64       // sizing cap on position value (e.g. 0.10)
	MaxPositionValuePct    float64       // admission cap on position value (e.g. 0.20)
	MaxConcurrentPositions int           // open position count ceiling
	MaxDailyLoss           float64       // absolute realized loss that halts new entries
	MaxDailyTrades         int           // closed trades per day ceiling
	MaxSymbolTradesPerDay  int           // entries per symbol per day ceiling
	Cooldown               time.Duration // per-symbol pause after a non-winning close
	MaxCloseAttempts       int           // consecutive close failures before force-removal
	MaxPositionAge         time.Duration // age at which the reaper closes a position

	// Kelly sizing inputs. Zero values take the defaults (20 trades,
	// 2.5% assumed average win, 1.5% assumed average loss).
	KellyMinTrades int
	KellyAvgWin    float64
	KellyAvgLoss   float64

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Manager owns the portfolio's financial state and enforces the policy
// in Config against it. All state access is behind mu.
type Manager struct {
	cfg      Config
	logger   ports.Logger
	exchange ports.ExchangeClient
	repo     ports.Repository
	ledger   *ledger.Ledger
	notifier ports.Notifier
	now      func() time.Time

	mu             sync.Mutex
	day            string // YYYY-MM-DD, UTC
	balance        float64
	initialBalance float64
	dailyPNL       float64
	dailyTrades    int
	totalTrades    int
	winningTrades  int
	losingTrades   int
	cooldowns      map[string]time.Time
	symbolTrades   map[string]int
	closeAttempts  map[string]int
	closing        map[string]struct{}
}

// New validates the configuration and dependencies and returns a
// Manager seeded with the configured initial balance. Call Restore to
// adopt persisted state before trading.
func New(cfg Config, logger ports.Logger, exchange ports.ExchangeClient, repo ports.Repository, ldg *ledger.Ledger, notifier ports.Notifier) (*Manager, error) {
	if logger == nil || exchange == nil || repo == nil || ldg == nil || notifier == nil {
		return nil, fmt.Errorf("missing required dependencies for risk.Manager")
	}
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("InitialBalance must be positive")
	}
	if cfg.MaxRiskPerTrade <= 0 || cfg.MaxRiskPerTrade >= 1 {
		return nil, fmt.Errorf("MaxRiskPerTrade must be between 0 and 1")
	}
	if cfg.MaxPortfolioRisk <= 0 || cfg.MaxPortfolioRisk >= 1 {
		return nil, fmt.Errorf("MaxPortfolioRisk must be between 0 and 1")
	}
	if cfg.MaxPositionPct <= 0 || cfg.MaxPositionPct >= 1 {
		return nil, fmt.Errorf("MaxPositionPct must be between 0 and 1")
	}
	if cfg.MaxPositionValuePct <= 0 || cfg.MaxPositionValuePct >= 1 {
		return nil, fmt.Errorf("MaxPositionValuePct must be between 0 and 1")
	}
	if cfg.MaxConcurrentPositions <= 0 {
		return nil, fmt.Errorf("MaxConcurrentPositions must be positive")
	}
	if cfg.MaxDailyLoss <= 0 {
		return nil, fmt.Errorf("MaxDailyLoss must be positive")
	}
	if cfg.MaxDailyTrades <= 0 {
		return nil, fmt.Errorf("MaxDailyTrades must be positive")
	}
	if cfg.MaxSymbolTradesPerDay <= 0 {
		return nil, fmt.Errorf("MaxSymbolTradesPerDay must be positive")
	}
	if cfg.Cooldown <= 0 {
		return nil, fmt.Errorf("Cooldown must be positive")
	}
	if cfg.MaxCloseAttempts <= 0 {
		return nil, fmt.Errorf("MaxCloseAttempts must be positive")
	}
	if cfg.MaxPositionAge <= 0 {
		return nil, fmt.Errorf("MaxPositionAge must be positive")
	}
	if cfg.KellyMinTrades <= 0 {
		cfg.KellyMinTrades = 20
	}
	if cfg.KellyAvgWin <= 0 {
		cfg.KellyAvgWin = 0.025
	}
	if cfg.KellyAvgLoss <= 0 {
		cfg.KellyAvgLoss = 0.015
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Manager{
		cfg:            cfg,
		logger:         logger,
		exchange:       exchange,
		repo:           repo,
		ledger:         ldg,
		notifier:       notifier,
		now:            cfg.Now,
		balance:        cfg.InitialBalance,
		initialBalance: cfg.InitialBalance,
		cooldowns:      make(map[string]time.Time),
		symbolTrades:   make(map[string]int),
		closeAttempts:  make(map[string]int),
		closing:        make(map[string]struct{}),
	}
	m.day = dayStamp(m.now())
	return m, nil
}

// Restore loads the persisted daily state. With no stored state the
// manager keeps the configured initial balance. A stored state from a
// previous day keeps the balance and lifetime counters but resets the
// daily fields, writing the rolled-over state back immediately.
func (m *Manager) Restore(ctx context.Context) error {
	state, err := m.repo.LoadDailyState(ctx)
	if err != nil {
		return fmt.Errorf("loading daily state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	today := dayStamp(m.now())
	m.day = today

	if state == nil {
		m.logger.Info(ctx, "No persisted state, starting fresh",
			map[string]interface{}{"balance": m.balance, "date": today})
		return m.saveStateLocked(ctx)
	}

	m.balance = state.Balance
	m.initialBalance = state.InitialBalance
	if m.initialBalance <= 0 {
		m.initialBalance = m.cfg.InitialBalance
	}
	m.totalTrades = state.TotalTrades
	m.winningTrades = state.WinningTrades
	m.losingTrades = state.LosingTrades

	if state.Date == today {
		m.dailyPNL = state.DailyPNL
		m.dailyTrades = state.DailyTrades
		m.logger.Info(ctx, "Restored daily state", map[string]interface{}{
			"date":        state.Date,
			"balance":     m.balance,
			"dailyPnl":    m.dailyPNL,
			"dailyTrades": m.dailyTrades,
			"totalTrades": m.totalTrades,
		})
		return nil
	}

	m.dailyPNL = 0
	m.dailyTrades = 0
	m.logger.Info(ctx, "New trading day, daily counters reset", map[string]interface{}{
		"previousDate": state.Date,
		"date":         today,
		"balance":      m.balance,
	})
	return m.saveStateLocked(ctx)
}

// SyncBalanceFromExchange replaces the tracked balance with the live
// account balance for the given asset. Used at startup in live mode so
// deposits and withdrawals made outside the bot are picked up; paper
// mode keeps the persisted balance instead.
func (m *Manager) SyncBalanceFromExchange(ctx context.Context, asset string) error {
	bal, err := m.exchange.AccountBalance(ctx, asset)
	if err != nil {
		return fmt.Errorf("fetching %s balance: %w", asset, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info(ctx, "Balance synced from exchange", map[string]interface{}{
		"asset":    asset,
		"previous": m.balance,
		"current":  bal,
	})
	m.balance = bal
	if err := m.saveStateLocked(ctx); err != nil {
		m.logger.Error(ctx, err, "Failed to persist synced balance")
	}
	return nil
}

// SizePosition computes the position size for an entry at entryPrice
// with a stop at stopPrice, given the current ATR as a percentage of
// price. It returns the base-asset quantity and the quote-currency
// value, and fails closed (error, no zero-quantity fallback) when the
// stop distance or the capped value degenerates.
func (m *Manager) SizePosition(ctx context.Context, symbol string, entryPrice, stopPrice, atrPct float64) (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(ctx)
	return m.sizeLocked(ctx, symbol, entryPrice, stopPrice, atrPct)
}

func (m *Manager) sizeLocked(ctx context.Context, symbol string, entryPrice, stopPrice, atrPct float64) (float64, float64, error) {
	if entryPrice <= 0 {
		return 0, 0, fmt.Errorf("entry price must be positive: %w", ports.ErrInvalidRequest)
	}

	stopDistancePct := math.Abs(entryPrice-stopPrice) / entryPrice
	if stopDistancePct == 0 {
		return 0, 0, fmt.Errorf("stop distance for %s is zero", symbol)
	}

	riskAmount := m.balance * m.cfg.MaxRiskPerTrade
	value := riskAmount / stopDistancePct
	value *= volatilityMultiplier(atrPct)
	value *= m.kellyLocked()

	heatBudget := m.cfg.MaxPortfolioRisk*m.balance - m.ledger.TotalRisk()
	value = math.Min(value, heatBudget)
	value = math.Min(value, m.balance*m.cfg.MaxPositionPct)

	if value <= 0 {
		return 0, 0, fmt.Errorf("no sizable value for %s (heat budget %.2f, balance %.2f)", symbol, heatBudget, m.balance)
	}

	quantity := value / entryPrice
	m.logger.Debug(ctx, "Position sized", map[string]interface{}{
		"symbol":     symbol,
		"quantity":   quantity,
		"value":      value,
		"riskAmount": riskAmount,
		"stopDist":   stopDistancePct,
		"atrPct":     atrPct,
	})
	return quantity, value, nil
}

// volatilityMultiplier shrinks size as volatility rises: full size in
// calm markets, three quarters in a mid band, half above it.
func volatilityMultiplier(atrPct float64) float64 {
	switch {
	case atrPct > 8:
		return 0.5
	case atrPct > 5:
		return 0.75
	default:
		return 1.0
	}
}

// kellyLocked returns the Kelly-derived size multiplier: a flat
// conservative 0.5 until enough history exists, then half-Kelly from
// the lifetime win rate against fixed assumed win/loss sizes, clamped
// into the configured band.
func (m *Manager) kellyLocked() float64 {
	if m.totalTrades < m.cfg.KellyMinTrades {
		return 0.5
	}
	winRate := float64(m.winningTrades) / float64(m.totalTrades)
	b := m.cfg.KellyAvgWin / m.cfg.KellyAvgLoss
	kelly := (winRate*b - (1 - winRate)) / b
	return math.Max(0.25, math.Min(kelly/2, 0.20))
}

// AllowNewPosition runs the admission checks for a prospective entry
// and returns the verdict with a human-readable reason on rejection.
// The checks run in a fixed order: existing position, portfolio heat,
// single-position value cap, concurrency cap, daily trade cap,
// per-symbol trade cap, daily loss limit.
func (m *Manager) AllowNewPosition(ctx context.Context, symbol string, positionValue, riskAmount float64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(ctx)
	return m.admitLocked(symbol, positionValue, riskAmount)
}

func (m *Manager) admitLocked(symbol string, positionValue, riskAmount float64) (bool, string) {
	if m.ledger.Get(symbol) != nil {
		return false, fmt.Sprintf("position already open for %s", symbol)
	}
	if m.ledger.TotalRisk()+riskAmount > m.cfg.MaxPortfolioRisk*m.balance {
		return false, fmt.Sprintf("portfolio heat %.2f + %.2f would exceed %.2f",
			m.ledger.TotalRisk(), riskAmount, m.cfg.MaxPortfolioRisk*m.balance)
	}
	if positionValue > m.cfg.MaxPositionValuePct*m.balance {
		return false, fmt.Sprintf("position value %.2f exceeds cap %.2f",
			positionValue, m.cfg.MaxPositionValuePct*m.balance)
	}
	if m.ledger.Count() >= m.cfg.MaxConcurrentPositions {
		return false, fmt.Sprintf("concurrent position cap %d reached", m.cfg.MaxConcurrentPositions)
	}
	if m.dailyTrades >= m.cfg.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade cap %d reached", m.cfg.MaxDailyTrades)
	}
	if m.symbolTrades[symbol] >= m.cfg.MaxSymbolTradesPerDay {
		return false, fmt.Sprintf("daily trade cap %d for %s reached", m.cfg.MaxSymbolTradesPerDay, symbol)
	}
	if m.dailyPNL <= -m.cfg.MaxDailyLoss {
		return false, fmt.Sprintf("daily loss limit reached (%.2f)", m.dailyPNL)
	}
	return true, ""
}

// ExecuteEntry is the single entry path: cooldown check, sizing,
// admission, market order, ledger registration, notification. The
// returned position reflects the actual fill. Policy refusals wrap
// ErrEntryRejected; anything else is an execution failure.
func (m *Manager) ExecuteEntry(ctx context.Context, signal *domain.EntrySignal, atrPct float64) (*domain.Position, error) {
	if signal == nil || signal.Symbol == "" {
		return nil, fmt.Errorf("entry signal is empty: %w", ports.ErrInvalidRequest)
	}
	if signal.EntryPrice <= 0 || signal.StopLoss <= 0 {
		return nil, fmt.Errorf("entry signal for %s has no price levels: %w", signal.Symbol, ports.ErrInvalidRequest)
	}

	m.mu.Lock()
	m.rolloverLocked(ctx)

	if until, ok := m.cooldowns[signal.Symbol]; ok && m.now().Before(until) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s cooling down until %s", ErrEntryRejected, signal.Symbol, until.Format(time.RFC3339))
	}

	quantity, value, err := m.sizeLocked(ctx, signal.Symbol, signal.EntryPrice, signal.StopLoss, atrPct)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: sizing failed: %v", ErrEntryRejected, err)
	}

	riskAmount := quantity * math.Abs(signal.EntryPrice-signal.StopLoss)
	if ok, reason := m.admitLocked(signal.Symbol, value, riskAmount); !ok {
		m.mu.Unlock()
		m.logger.Debug(ctx, "Entry not admitted", map[string]interface{}{"symbol": signal.Symbol, "reason": reason})
		return nil, fmt.Errorf("%w: %s", ErrEntryRejected, reason)
	}
	m.mu.Unlock()

	resp, err := m.exchange.PlaceMarketOrder(ctx, signal.Symbol, signal.Side, quantity)
	if err != nil {
		return nil, fmt.Errorf("entry order for %s failed: %w", signal.Symbol, err)
	}

	fill := resp.FillPrice(signal.EntryPrice)
	// Stops and targets keep the signal's percentage distances but
	// anchor to the actual fill rather than the quoted price.
	ratio := fill / signal.EntryPrice
	pos := &domain.Position{
		Symbol:     signal.Symbol,
		Side:       signal.Side,
		EntryPrice: fill,
		Quantity:   quantity,
		StopLoss:   signal.StopLoss * ratio,
		TakeProfit: signal.TakeProfit * ratio,
		EntryTime:  m.now(),
		Strategy:   signal.Strategy,
	}

	m.mu.Lock()
	if err := m.ledger.Add(pos); err != nil {
		m.mu.Unlock()
		m.logger.Error(ctx, err, "Filled order could not be recorded, compensating", map[string]interface{}{
			"symbol":   pos.Symbol,
			"quantity": pos.Quantity,
			"fill":     fill,
		})
		if _, compErr := m.exchange.PlaceMarketOrder(ctx, pos.Symbol, closeSide(pos.Side), pos.Quantity); compErr != nil {
			m.logger.Error(ctx, compErr, "Compensating order failed, manual intervention required", map[string]interface{}{
				"symbol":   pos.Symbol,
				"quantity": pos.Quantity,
			})
		}
		return nil, fmt.Errorf("recording position for %s: %w", pos.Symbol, err)
	}
	m.symbolTrades[pos.Symbol]++
	m.mu.Unlock()

	m.logger.Info(ctx, "Position opened", map[string]interface{}{
		"symbol":     pos.Symbol,
		"side":       string(pos.Side),
		"entryPrice": pos.EntryPrice,
		"quantity":   pos.Quantity,
		"value":      value,
		"stopLoss":   pos.StopLoss,
		"takeProfit": pos.TakeProfit,
		"strategy":   pos.Strategy,
		"confidence": signal.Confidence,
	})
	m.notifier.PositionOpened(ctx, pos)
	return pos, nil
}

// ClosePosition closes the open position for symbol at exitPrice via a
// market order and settles the result. It is the only mutator of
// balance, daily P&L, win/loss counters, and cooldowns.
//
// A failed close increments the symbol's attempt counter and returns
// the error; once the counter reaches MaxCloseAttempts the next call
// force-removes the position from the ledger without emitting a trade,
// so a persistently unclosable position cannot wedge its loop forever.
func (m *Manager) ClosePosition(ctx context.Context, symbol string, exitPrice float64, reason domain.CloseReason) (*domain.Trade, error) {
	m.mu.Lock()
	m.rolloverLocked(ctx)

	pos := m.ledger.Get(symbol)
	if pos == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("symbol %s: %w", symbol, ports.ErrPositionNotFound)
	}
	if _, busy := m.closing[symbol]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("symbol %s: %w", symbol, ErrCloseInFlight)
	}

	if m.closeAttempts[symbol] >= m.cfg.MaxCloseAttempts {
		removed, _ := m.ledger.Remove(symbol)
		delete(m.closeAttempts, symbol)
		m.mu.Unlock()
		fields := map[string]interface{}{"symbol": symbol, "reason": string(reason)}
		if removed != nil {
			fields["entryPrice"] = removed.EntryPrice
			fields["quantity"] = removed.Quantity
		}
		m.logger.Error(ctx, fmt.Errorf("close failed %d times", m.cfg.MaxCloseAttempts),
			"Force-removing unclosable position, no trade recorded", fields)
		return nil, nil
	}

	m.closing[symbol] = struct{}{}
	m.mu.Unlock()

	resp, err := m.exchange.PlaceMarketOrder(ctx, symbol, closeSide(pos.Side), pos.Quantity)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.closing, symbol)

	if err != nil {
		m.closeAttempts[symbol]++
		m.logger.Error(ctx, err, "Close order failed", map[string]interface{}{
			"symbol":   symbol,
			"attempts": m.closeAttempts[symbol],
			"reason":   string(reason),
		})
		return nil, fmt.Errorf("close order for %s failed: %w", symbol, err)
	}

	fill := resp.FillPrice(exitPrice)
	var pnl float64
	if pos.Side == domain.Buy {
		pnl = (fill - pos.EntryPrice) * pos.Quantity
	} else {
		pnl = (pos.EntryPrice - fill) * pos.Quantity
	}
	pnlPct := 0.0
	if pos.EntryPrice > 0 {
		pnlPct = pnl / (pos.EntryPrice * pos.Quantity) * 100
	}

	now := m.now()
	m.balance += pnl
	m.dailyPNL += pnl
	m.dailyTrades++
	m.totalTrades++
	if pnl > 0 {
		m.winningTrades++
	} else {
		m.losingTrades++
		m.cooldowns[symbol] = now.Add(m.cfg.Cooldown)
	}

	if _, err := m.ledger.Remove(symbol); err != nil {
		m.logger.Warn(ctx, "Position vanished from ledger during close", map[string]interface{}{"symbol": symbol})
	}

	trade := &domain.Trade{
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   fill,
		Quantity:    pos.Quantity,
		PNL:         pnl,
		PNLPct:      pnlPct,
		EntryTime:   pos.EntryTime,
		ExitTime:    now,
		CloseReason: reason,
		Strategy:    pos.Strategy,
	}
	id, err := m.repo.RecordTrade(ctx, trade)
	if err != nil {
		m.logger.Error(ctx, err, "Failed to record trade", map[string]interface{}{"symbol": symbol})
	} else {
		trade.ID = id
	}
	if err := m.saveStateLocked(ctx); err != nil {
		m.logger.Error(ctx, err, "Failed to persist state after close", map[string]interface{}{"symbol": symbol})
	}
	delete(m.closeAttempts, symbol)

	m.logger.Info(ctx, "Position closed", map[string]interface{}{
		"symbol":    symbol,
		"exitPrice": fill,
		"pnl":       pnl,
		"pnlPct":    pnlPct,
		"reason":    string(reason),
		"balance":   m.balance,
		"dailyPnl":  m.dailyPNL,
	})
	return trade, nil
}

// ReapStalePositions closes every position older than MaxPositionAge at
// its last observed price, through the normal close path so counters
// and persistence stay consistent. It returns the resulting trades for
// notification.
func (m *Manager) ReapStalePositions(ctx context.Context) []*domain.Trade {
	now := m.now()
	var closed []*domain.Trade
	for _, pos := range m.ledger.All() {
		age := pos.Age(now)
		if age <= m.cfg.MaxPositionAge {
			continue
		}
		price := pos.CurrentPrice
		if price <= 0 {
			price = pos.EntryPrice
		}
		m.logger.Warn(ctx, "Closing stale position", map[string]interface{}{
			"symbol": pos.Symbol,
			"age":    age.String(),
			"price":  price,
		})
		trade, err := m.ClosePosition(ctx, pos.Symbol, price, domain.CloseReasonStale)
		if err != nil {
			m.logger.Error(ctx, err, "Stale close failed", map[string]interface{}{"symbol": pos.Symbol})
			continue
		}
		if trade != nil {
			closed = append(closed, trade)
		}
	}
	return closed
}

// InCooldown reports whether the symbol is still inside its post-loss
// cooldown window. Expired entries are dropped on the way through.
func (m *Manager) InCooldown(ctx context.Context, symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(ctx)

	until, ok := m.cooldowns[symbol]
	if !ok {
		return false
	}
	if !m.now().Before(until) {
		delete(m.cooldowns, symbol)
		return false
	}
	return true
}

// HasHeadroom reports whether another position may be opened under the
// concurrency cap.
func (m *Manager) HasHeadroom() bool {
	return m.ledger.Count() < m.cfg.MaxConcurrentPositions
}

// Balance returns the current tracked balance.
func (m *Manager) Balance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

// DailyPNL returns today's realized profit and loss.
func (m *Manager) DailyPNL(ctx context.Context) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(ctx)
	return m.dailyPNL
}

// DailyLossLimitReached reports whether today's realized losses have
// hit the configured limit.
func (m *Manager) DailyLossLimitReached(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(ctx)
	return m.dailyPNL <= -m.cfg.MaxDailyLoss
}

// Summary returns a point-in-time view of the portfolio.
func (m *Manager) Summary(ctx context.Context) *domain.PortfolioSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(ctx)

	totalPNL := m.balance - m.initialBalance
	totalPNLPct := 0.0
	if m.initialBalance > 0 {
		totalPNLPct = totalPNL / m.initialBalance * 100
	}
	heat := 0.0
	if m.balance > 0 {
		heat = m.ledger.TotalRisk() / m.balance
	}
	winRate := 0.0
	if m.totalTrades > 0 {
		winRate = float64(m.winningTrades) / float64(m.totalTrades) * 100
	}
	return &domain.PortfolioSummary{
		Balance:        m.balance,
		InitialBalance: m.initialBalance,
		TotalPNL:       totalPNL,
		TotalPNLPct:    totalPNLPct,
		UnrealizedPNL:  m.ledger.TotalUnrealizedPNL(),
		PortfolioHeat:  heat,
		OpenPositions:  m.ledger.Count(),
		DailyPNL:       m.dailyPNL,
		DailyTrades:    m.dailyTrades,
		TotalTrades:    m.totalTrades,
		WinningTrades:  m.winningTrades,
		LosingTrades:   m.losingTrades,
		WinRate:        winRate,
	}
}

// rolloverLocked resets the daily counters, cooldowns, and per-symbol
// trade counts when the UTC calendar day has changed since the last
// operation. Must be called with mu held.
func (m *Manager) rolloverLocked(ctx context.Context) {
	today := dayStamp(m.now())
	if m.day == today {
		return
	}
	m.logger.Info(ctx, "Daily rollover", map[string]interface{}{
		"previousDate": m.day,
		"date":         today,
		"dailyPnl":     m.dailyPNL,
		"dailyTrades":  m.dailyTrades,
	})
	m.day = today
	m.dailyPNL = 0
	m.dailyTrades = 0
	m.symbolTrades = make(map[string]int)
	m.cooldowns = make(map[string]time.Time)
	if err := m.saveStateLocked(ctx); err != nil {
		m.logger.Error(ctx, err, "Failed to persist rolled-over state")
	}
}

func (m *Manager) saveStateLocked(ctx context.Context) error {
	state := &domain.DailyState{
		Date:           m.day,
		Balance:        m.balance,
		InitialBalance: m.initialBalance,
		DailyPNL:       m.dailyPNL,
		DailyTrades:    m.dailyTrades,
		TotalTrades:    m.totalTrades,
		WinningTrades:  m.winningTrades,
		LosingTrades:   m.losingTrades,
		UpdatedAt:      m.now(),
	}
	return m.repo.SaveDailyState(ctx, state)
}

func closeSide(side domain.OrderSide) domain.OrderSide {
	if side == domain.Buy {
		return domain.Sell
	}
	return domain.Buy
}

func dayStamp(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
