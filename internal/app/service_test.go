package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepilot/internal/domain"
	"tradepilot/internal/ledger"
	"tradepilot/internal/ports"
	"tradepilot/internal/risk"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type mockLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *mockLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}
func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.record(msg)
}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.record(msg)
}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.record(msg)
}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.record(msg)
}
func (l *mockLogger) contains(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m == msg {
			return true
		}
	}
	return false
}

type placedOrder struct {
	symbol   string
	side     domain.OrderSide
	quantity float64
}

type stubExchange struct {
	mu         sync.Mutex
	price      float64
	priceErr   error
	klines     []*domain.Kline
	klinesErr  error
	htfKlines  []*domain.Kline
	htfErr     error
	pingErr    error
	syncErr    error
	balance    float64
	balanceErr error
	orders     []placedOrder
	placeErr   error
}

func (s *stubExchange) setPrice(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = p
}

func (s *stubExchange) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *stubExchange) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.priceErr != nil {
		return 0, s.priceErr
	}
	return s.price, nil
}

func (s *stubExchange) LatestCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if interval == "4h" {
		if s.htfErr != nil {
			return nil, s.htfErr
		}
		return s.htfKlines, nil
	}
	if s.klinesErr != nil {
		return nil, s.klinesErr
	}
	return s.klines, nil
}

func (s *stubExchange) Ping(ctx context.Context) error           { return s.pingErr }
func (s *stubExchange) SyncServerTime(ctx context.Context) error { return s.syncErr }

func (s *stubExchange) AccountBalance(ctx context.Context, asset string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balanceErr != nil {
		return 0, s.balanceErr
	}
	return s.balance, nil
}

func (s *stubExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*ports.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.placeErr != nil {
		return nil, s.placeErr
	}
	s.orders = append(s.orders, placedOrder{symbol: symbol, side: side, quantity: quantity})
	return &ports.OrderResponse{
		OrderID:     int64(len(s.orders)),
		Symbol:      symbol,
		Side:        side,
		ExecutedQty: quantity,
		Status:      "FILLED",
		Timestamp:   testNow,
	}, nil
}

type stubAnalyzer struct {
	snapshot    *domain.MarketSnapshot
	snapshotErr error
	htf         *domain.HigherTFSnapshot
	required    int
}

func (s *stubAnalyzer) RequiredDataPoints() int {
	if s.required > 0 {
		return s.required
	}
	return 10
}

func (s *stubAnalyzer) Snapshot(ctx context.Context, symbol string, klines []*domain.Kline, currentPrice float64) (*domain.MarketSnapshot, error) {
	if s.snapshotErr != nil {
		return nil, s.snapshotErr
	}
	snap := *s.snapshot
	snap.Symbol = symbol
	snap.Price = currentPrice
	return &snap, nil
}

func (s *stubAnalyzer) HigherTF(ctx context.Context, klines []*domain.Kline) *domain.HigherTFSnapshot {
	return s.htf
}

type stubStrategy struct {
	mu           sync.Mutex
	enter        bool
	signal       *domain.EntrySignal
	exit         bool
	exitReason   domain.CloseReason
	required     int
	entryCalls   int
	exitCalls    int
	lastSnapshot *domain.MarketSnapshot
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) RequiredDataPoints() int {
	if s.required > 0 {
		return s.required
	}
	return 10
}

func (s *stubStrategy) EvaluateEntry(ctx context.Context, snapshot *domain.MarketSnapshot) (*domain.EntrySignal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryCalls++
	s.lastSnapshot = snapshot
	if !s.enter {
		return nil, false
	}
	sig := *s.signal
	return &sig, true
}

func (s *stubStrategy) EvaluateExit(ctx context.Context, snapshot *domain.MarketSnapshot, pos *domain.Position) (bool, domain.CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitCalls++
	if !s.exit {
		return false, ""
	}
	return true, s.exitReason
}

func (s *stubStrategy) setEnter(enter bool, sig *domain.EntrySignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enter = enter
	if sig != nil {
		s.signal = sig
	}
}

func (s *stubStrategy) setExit(exit bool, reason domain.CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exit = exit
	s.exitReason = reason
}

func (s *stubStrategy) entryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryCalls
}

type stubRepo struct {
	mu      sync.Mutex
	state   *domain.DailyState
	loadErr error
	trades  []*domain.Trade
	nextID  int64
}

func (s *stubRepo) LoadDailyState(ctx context.Context) (*domain.DailyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.state == nil {
		return nil, nil
	}
	copied := *s.state
	return &copied, nil
}

func (s *stubRepo) SaveDailyState(ctx context.Context, state *domain.DailyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.state = &copied
	return nil
}

func (s *stubRepo) RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	copied := *trade
	copied.ID = s.nextID
	s.trades = append(s.trades, &copied)
	return s.nextID, nil
}

func (s *stubRepo) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	return nil, nil
}
func (s *stubRepo) FindSince(ctx context.Context, since time.Time) ([]*domain.Trade, error) {
	return nil, nil
}
func (s *stubRepo) CountSince(ctx context.Context, since time.Time) (int, error) { return 0, nil }
func (s *stubRepo) TotalProfit(ctx context.Context) (float64, error)             { return 0, nil }
func (s *stubRepo) WinLossCounts(ctx context.Context) (int, int, error)          { return 0, 0, nil }

type stubNotifier struct {
	mu           sync.Mutex
	opened       []*domain.Position
	closed       []*domain.Trade
	lossAlerts   int
	profitAlerts int
}

func (s *stubNotifier) PositionOpened(ctx context.Context, pos *domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, pos)
}
func (s *stubNotifier) PositionClosed(ctx context.Context, trade *domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, trade)
}
func (s *stubNotifier) DailyLossLimitReached(ctx context.Context, dailyPNL, limit float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lossAlerts++
}
func (s *stubNotifier) DailyProfitTargetReached(ctx context.Context, dailyPNL, target float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profitAlerts++
}

func (s *stubNotifier) closedTrades() []*domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Trade, len(s.closed))
	copy(out, s.closed)
	return out
}

func (s *stubNotifier) counts() (loss, profit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lossAlerts, s.profitAlerts
}

func testKlines(count int) []*domain.Kline {
	klines := make([]*domain.Kline, count)
	base := testNow.Add(-time.Duration(count) * 5 * time.Minute)
	for i := 0; i < count; i++ {
		open := base.Add(time.Duration(i) * 5 * time.Minute)
		klines[i] = &domain.Kline{
			Symbol:    "ETHUSDT",
			Interval:  "5m",
			OpenTime:  open,
			CloseTime: open.Add(5 * time.Minute),
			Open:      2000 + float64(i),
			High:      2010 + float64(i),
			Low:       1990 + float64(i),
			Close:     2005 + float64(i),
			Volume:    100,
		}
	}
	return klines
}

func riskConfig(now func() time.Time) risk.Config {
	return risk.Config{
		InitialBalance:         10000,
		MaxRiskPerTrade:        0.02,
		MaxPortfolioRisk:       0.15,
		MaxPositionPct:         0.10,
		MaxPositionValuePct:    0.20,
		MaxConcurrentPositions: 5,
		MaxDailyLoss:           30,
		MaxDailyTrades:         25,
		MaxSymbolTradesPerDay:  3,
		Cooldown:               20 * time.Minute,
		MaxCloseAttempts:       3,
		MaxPositionAge:         72 * time.Hour,
		Now:                    now,
	}
}

type serviceDeps struct {
	clock    *fakeClock
	logger   *mockLogger
	exchange *stubExchange
	repo     *stubRepo
	notifier *stubNotifier
	analyzer *stubAnalyzer
	strat    *stubStrategy
	ledger   *ledger.Ledger
	engine   *risk.Manager
}

func newTestService(t *testing.T, cfg Config) (*Service, *serviceDeps) {
	t.Helper()
	clock := newFakeClock(testNow)
	logger := &mockLogger{}
	exchange := &stubExchange{
		price:     2000,
		balance:   10000,
		klines:    testKlines(200),
		htfKlines: testKlines(60),
	}
	repo := &stubRepo{}
	notifier := &stubNotifier{}
	ldg := ledger.New()
	engine, err := risk.New(riskConfig(clock.Now), logger, exchange, repo, ldg, notifier)
	require.NoError(t, err)
	analyzer := &stubAnalyzer{snapshot: &domain.MarketSnapshot{ATRPct: 2.0, Trend: domain.TrendBullish}}
	strat := &stubStrategy{}

	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"ETHUSDT"}
	}
	if cfg.Now == nil {
		cfg.Now = clock.Now
	}
	svc, err := New(cfg, logger, exchange, analyzer, strat, engine, ldg, notifier)
	require.NoError(t, err)

	return svc, &serviceDeps{
		clock:    clock,
		logger:   logger,
		exchange: exchange,
		repo:     repo,
		notifier: notifier,
		analyzer: analyzer,
		strat:    strat,
		ledger:   ldg,
		engine:   engine,
	}
}

func defaultSignal() *domain.EntrySignal {
	return &domain.EntrySignal{
		Symbol:     "ETHUSDT",
		Side:       domain.Buy,
		Confidence: 0.9,
		EntryPrice: 2000,
		StopLoss:   1900,
		TakeProfit: 20000,
		Strategy:   "stub",
	}
}

// openTestPosition drives one entry tick and returns the opened position.
// Entry: 2000, stop: 1900, quantity: 0.5 with the default risk config.
func openTestPosition(t *testing.T, svc *Service, deps *serviceDeps, breaches *int, sig *domain.EntrySignal) *domain.Position {
	t.Helper()
	if sig == nil {
		sig = defaultSignal()
	}
	deps.strat.setEnter(true, sig)
	require.NoError(t, svc.tick(context.Background(), "ETHUSDT", breaches))
	deps.strat.setEnter(false, nil)
	pos := deps.ledger.Get("ETHUSDT")
	require.NotNil(t, pos, "entry tick should have opened a position")
	return pos
}

func TestNew(t *testing.T) {
	logger := &mockLogger{}
	exchange := &stubExchange{price: 2000}
	repo := &stubRepo{}
	notifier := &stubNotifier{}
	ldg := ledger.New()
	engine, err := risk.New(riskConfig(nil), logger, exchange, repo, ldg, notifier)
	require.NoError(t, err)
	analyzer := &stubAnalyzer{snapshot: &domain.MarketSnapshot{}}
	strat := &stubStrategy{}

	t.Run("defaults applied", func(t *testing.T) {
		svc, err := New(Config{Symbols: []string{"ETHUSDT"}}, logger, exchange, analyzer, strat, engine, ldg, notifier)
		require.NoError(t, err)
		assert.Equal(t, "5m", svc.cfg.Interval)
		assert.Equal(t, 200, svc.cfg.CandleLimit)
		assert.Equal(t, "4h", svc.cfg.HigherTFInterval)
		assert.Equal(t, 60, svc.cfg.HigherTFCandleLimit)
		assert.Equal(t, 30*time.Second, svc.cfg.PollInterval)
		assert.Equal(t, 60*time.Second, svc.cfg.ErrorPollInterval)
		assert.Equal(t, 5*time.Minute, svc.cfg.MonitorInterval)
		assert.Equal(t, 0.65, svc.cfg.MinConfidence)
		assert.Equal(t, 0.013, svc.cfg.TakeProfitPct)
		assert.Equal(t, 0.03, svc.cfg.TrailingStopPct)
		assert.Equal(t, 0.015, svc.cfg.TrailingActivationPct)
		assert.Equal(t, 0.05, svc.cfg.PriceSanityPct)
		assert.Equal(t, 2, svc.cfg.StopConfirmTicks)
		assert.Equal(t, 30.0, svc.cfg.MaxDailyLoss)
		assert.Equal(t, 50.0, svc.cfg.TargetDailyProfit)
		assert.Equal(t, "USDT", svc.cfg.QuoteAsset)
	})

	t.Run("missing logger", func(t *testing.T) {
		svc, err := New(Config{Symbols: []string{"ETHUSDT"}}, nil, exchange, analyzer, strat, engine, ldg, notifier)
		assert.Error(t, err)
		assert.Nil(t, svc)
	})

	t.Run("no symbols", func(t *testing.T) {
		svc, err := New(Config{}, logger, exchange, analyzer, strat, engine, ldg, notifier)
		assert.Error(t, err)
		assert.Nil(t, svc)
	})

	t.Run("empty symbol", func(t *testing.T) {
		svc, err := New(Config{Symbols: []string{"ETHUSDT", ""}}, logger, exchange, analyzer, strat, engine, ldg, notifier)
		assert.Error(t, err)
		assert.Nil(t, svc)
	})

	t.Run("candle limit below analyzer requirement", func(t *testing.T) {
		hungry := &stubAnalyzer{snapshot: &domain.MarketSnapshot{}, required: 300}
		svc, err := New(Config{Symbols: []string{"ETHUSDT"}}, logger, exchange, hungry, strat, engine, ldg, notifier)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CandleLimit")
		assert.Nil(t, svc)
	})

	t.Run("candle limit below strategy requirement", func(t *testing.T) {
		hungry := &stubStrategy{required: 300}
		svc, err := New(Config{Symbols: []string{"ETHUSDT"}}, logger, exchange, analyzer, hungry, engine, ldg, notifier)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CandleLimit")
		assert.Nil(t, svc)
	})

	t.Run("confidence above one", func(t *testing.T) {
		svc, err := New(Config{Symbols: []string{"ETHUSDT"}, MinConfidence: 1.5}, logger, exchange, analyzer, strat, engine, ldg, notifier)
		assert.Error(t, err)
		assert.Nil(t, svc)
	})
}

func TestStartFailsWhenInitializationFails(t *testing.T) {
	tests := []struct {
		name    string
		live    bool
		setup   func(*serviceDeps)
		wantMsg string
	}{
		{
			name:    "exchange unreachable",
			setup:   func(d *serviceDeps) { d.exchange.pingErr = errors.New("connection refused") },
			wantMsg: "exchange ping",
		},
		{
			name:    "clock sync fails",
			setup:   func(d *serviceDeps) { d.exchange.syncErr = errors.New("timeout") },
			wantMsg: "sync server time",
		},
		{
			name:    "state restore fails",
			setup:   func(d *serviceDeps) { d.repo.loadErr = errors.New("disk error") },
			wantMsg: "restore state",
		},
		{
			name:    "balance sync fails in live mode",
			live:    true,
			setup:   func(d *serviceDeps) { d.exchange.balanceErr = errors.New("auth failed") },
			wantMsg: "sync balance",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, deps := newTestService(t, Config{LiveTrading: tt.live})
			tt.setup(deps)

			err := svc.Start(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestStartAdoptsExchangeBalanceInLiveMode(t *testing.T) {
	svc, deps := newTestService(t, Config{
		LiveTrading:     true,
		PollInterval:    5 * time.Millisecond,
		MonitorInterval: 5 * time.Millisecond,
	})
	deps.exchange.mu.Lock()
	deps.exchange.balance = 8000
	deps.exchange.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop after cancel")
	}
	assert.Equal(t, 8000.0, deps.engine.Balance())
}

func TestStartStopsOnContextCancel(t *testing.T) {
	svc, deps := newTestService(t, Config{
		PollInterval:      5 * time.Millisecond,
		ErrorPollInterval: 5 * time.Millisecond,
		MonitorInterval:   5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop after cancel")
	}
	assert.True(t, deps.logger.contains("Trading service started"))
	assert.True(t, deps.logger.contains("Symbol loop started"))
	assert.True(t, deps.logger.contains("Trading service stopped"))
}

func TestTickOpensPositionOnQualifiedSignal(t *testing.T) {
	svc, deps := newTestService(t, Config{})
	deps.analyzer.htf = &domain.HigherTFSnapshot{Valid: true, Price: 2000}
	deps.strat.setEnter(true, defaultSignal())

	var breaches int
	require.NoError(t, svc.tick(context.Background(), "ETHUSDT", &breaches))

	pos := deps.ledger.Get("ETHUSDT")
	require.NotNil(t, pos)
	assert.Equal(t, domain.Buy, pos.Side)
	assert.Equal(t, 2000.0, pos.EntryPrice)
	assert.Equal(t, 1900.0, pos.StopLoss)
	assert.InDelta(t, 0.5, pos.Quantity, 1e-9)
	assert.Equal(t, "stub", pos.Strategy)

	assert.Equal(t, 1, deps.exchange.orderCount())
	deps.notifier.mu.Lock()
	assert.Len(t, deps.notifier.opened, 1)
	deps.notifier.mu.Unlock()

	// The higher timeframe block travels with the snapshot.
	deps.strat.mu.Lock()
	assert.Same(t, deps.analyzer.htf, deps.strat.lastSnapshot.HigherTF)
	deps.strat.mu.Unlock()
}

func TestTickSkipsLowConfidenceSignal(t *testing.T) {
	svc, deps := newTestService(t, Config{})
	sig := defaultSignal()
	sig.Confidence = 0.5
	deps.strat.setEnter(true, sig)

	var breaches int
	require.NoError(t, svc.tick(context.Background(), "ETHUSDT", &breaches))

	assert.Nil(t, deps.ledger.Get("ETHUSDT"))
	assert.Zero(t, deps.exchange.orderCount())
	assert.Equal(t, 1, deps.strat.entryCount())
	assert.True(t, deps.logger.contains("Entry signal below confidence threshold"))
}

func TestTickBypassesConfirmationWhenHigherTFUnavailable(t *testing.T) {
	svc, deps := newTestService(t, Config{})
	deps.exchange.htfErr = errors.New("boom")
	deps.strat.setEnter(true, defaultSignal())

	var breaches int
	require.NoError(t, svc.tick(context.Background(), "ETHUSDT", &breaches))

	require.NotNil(t, deps.ledger.Get("ETHUSDT"))
	deps.strat.mu.Lock()
	assert.Nil(t, deps.strat.lastSnapshot.HigherTF)
	deps.strat.mu.Unlock()
	assert.True(t, deps.logger.contains("Higher timeframe data unavailable, skipping confirmation"))
}

func TestTickReturnsErrorOnDataFailure(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*serviceDeps)
		wantLog string
	}{
		{
			name:    "candle fetch fails",
			setup:   func(d *serviceDeps) { d.exchange.klinesErr = errors.New("boom") },
			wantLog: "Failed to fetch candles",
		},
		{
			name:    "price fetch fails",
			setup:   func(d *serviceDeps) { d.exchange.priceErr = errors.New("boom") },
			wantLog: "Failed to fetch price",
		},
		{
			name:    "snapshot fails",
			setup:   func(d *serviceDeps) { d.analyzer.snapshotErr = errors.New("too few candles") },
			wantLog: "Market snapshot unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, deps := newTestService(t, Config{})
			tt.setup(deps)

			var breaches int
			err := svc.tick(context.Background(), "ETHUSDT", &breaches)
			assert.Error(t, err)
			assert.True(t, deps.logger.contains(tt.wantLog))
		})
	}
}

func TestTickLogsWhenEntryOrderFails(t *testing.T) {
	svc, deps := newTestService(t, Config{})
	deps.exchange.mu.Lock()
	deps.exchange.placeErr = errors.New("exchange rejected order")
	deps.exchange.mu.Unlock()
	deps.strat.setEnter(true, defaultSignal())

	// An execution failure is logged but does not fail the tick; the loop
	// keeps its normal cadence and retries on later signals.
	var breaches int
	require.NoError(t, svc.tick(context.Background(), "ETHUSDT", &breaches))

	assert.Nil(t, deps.ledger.Get("ETHUSDT"))
	assert.True(t, deps.logger.contains("Failed to open position"))
}

func TestTickHaltsEntriesAtDailyLossLimit(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, Config{})
	deps.repo.state = &domain.DailyState{
		Date:           "2025-06-15",
		Balance:        9965,
		InitialBalance: 10000,
		DailyPNL:       -35,
		DailyTrades:    4,
		UpdatedAt:      testNow,
	}
	require.NoError(t, deps.engine.Restore(ctx))
	deps.strat.setEnter(true, defaultSignal())

	var breaches int
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))

	// The halt gate sits before strategy evaluation, and the alert fires once.
	assert.Zero(t, deps.strat.entryCount())
	assert.Nil(t, deps.ledger.Get("ETHUSDT"))
	loss, _ := deps.notifier.counts()
	assert.Equal(t, 1, loss)
	assert.True(t, deps.logger.contains("Daily loss limit reached, entries halted until rollover"))
}

func TestDailyHaltIdlesSymbolsWithoutPositions(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, Config{})

	assert.False(t, svc.haltedForTheDay(ctx, "ETHUSDT"), "no halt while under the limit")

	deps.repo.state = &domain.DailyState{
		Date:           "2025-06-15",
		Balance:        9965,
		InitialBalance: 10000,
		DailyPNL:       -35,
		DailyTrades:    4,
		UpdatedAt:      testNow,
	}
	require.NoError(t, deps.engine.Restore(ctx))

	// Without a position the loop idles before touching the exchange.
	assert.True(t, svc.haltedForTheDay(ctx, "ETHUSDT"))
	assert.True(t, svc.haltedForTheDay(ctx, "ETHUSDT"))
	loss, _ := deps.notifier.counts()
	assert.Equal(t, 1, loss)

	// An open position keeps its symbol ticking so exits stay active.
	require.NoError(t, deps.ledger.Add(&domain.Position{
		Symbol: "ETHUSDT", Side: domain.Buy, EntryPrice: 2000, Quantity: 0.5, StopLoss: 1900,
	}))
	assert.False(t, svc.haltedForTheDay(ctx, "ETHUSDT"))
}

func TestTickNotifiesProfitTargetOnce(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, Config{})
	deps.repo.state = &domain.DailyState{
		Date:           "2025-06-15",
		Balance:        10055,
		InitialBalance: 10000,
		DailyPNL:       55,
		DailyTrades:    3,
		UpdatedAt:      testNow,
	}
	require.NoError(t, deps.engine.Restore(ctx))

	var breaches int
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))

	_, profit := deps.notifier.counts()
	assert.Equal(t, 1, profit)
	// Trading continues after the target.
	assert.Equal(t, 2, deps.strat.entryCount())
	assert.True(t, deps.logger.contains("Daily profit target reached"))
}

func TestTickSkipsWhenNoHeadroom(t *testing.T) {
	svc, deps := newTestService(t, Config{})
	for _, sym := range []string{"A1USDT", "A2USDT", "A3USDT", "A4USDT", "A5USDT"} {
		require.NoError(t, deps.ledger.Add(&domain.Position{
			Symbol: sym, Side: domain.Buy, EntryPrice: 100, Quantity: 1, StopLoss: 95,
		}))
	}
	deps.strat.setEnter(true, defaultSignal())

	var breaches int
	require.NoError(t, svc.tick(context.Background(), "ETHUSDT", &breaches))

	assert.Zero(t, deps.strat.entryCount())
	assert.Nil(t, deps.ledger.Get("ETHUSDT"))
	assert.True(t, deps.logger.contains("Concurrent position limit reached, skipping entry"))
}

func TestTickRespectsCooldownAfterLoss(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, Config{})

	// Small stop distance keeps the realized loss under the daily limit.
	sig := defaultSignal()
	sig.StopLoss = 1980
	var breaches int
	openTestPosition(t, svc, deps, &breaches, sig)

	deps.exchange.setPrice(1985)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	deps.exchange.setPrice(1979)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	deps.exchange.setPrice(1978)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	require.Nil(t, deps.ledger.Get("ETHUSDT"), "stop loss should have closed the position")
	require.True(t, deps.engine.InCooldown(ctx, "ETHUSDT"))

	before := deps.strat.entryCount()
	deps.strat.setEnter(true, defaultSignal())
	deps.exchange.setPrice(2000)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	assert.Equal(t, before, deps.strat.entryCount(), "strategy must not be consulted during cooldown")
	assert.True(t, deps.logger.contains("Symbol in cooldown, skipping entry"))

	deps.clock.Advance(21 * time.Minute)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	assert.Equal(t, before+1, deps.strat.entryCount())
	assert.NotNil(t, deps.ledger.Get("ETHUSDT"))
}

func TestManageStopLossRequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, Config{})
	var breaches int
	openTestPosition(t, svc, deps, &breaches, nil)

	// Above the stop: nothing happens.
	deps.exchange.setPrice(1910)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	require.NotNil(t, deps.ledger.Get("ETHUSDT"))

	// First breach arms the counter but must not close.
	deps.exchange.setPrice(1899)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	require.NotNil(t, deps.ledger.Get("ETHUSDT"))
	assert.True(t, deps.logger.contains("Stop level breached, awaiting confirmation"))

	// Recovery resets the counter.
	deps.exchange.setPrice(1904)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	require.NotNil(t, deps.ledger.Get("ETHUSDT"))

	// Two consecutive breaches confirm the exit, at the stop level.
	deps.exchange.setPrice(1899)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	require.NotNil(t, deps.ledger.Get("ETHUSDT"))
	deps.exchange.setPrice(1897)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	require.Nil(t, deps.ledger.Get("ETHUSDT"))

	closed := deps.notifier.closedTrades()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseReasonStopLoss, closed[0].CloseReason)
	assert.Equal(t, 1900.0, closed[0].ExitPrice)
	assert.InDelta(t, -50.0, closed[0].PNL, 1e-9)
	assert.Equal(t, 2, deps.exchange.orderCount())
	assert.True(t, deps.engine.InCooldown(ctx, "ETHUSDT"))
}

func TestManageTakeProfitExitsAtTarget(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, Config{})
	var breaches int
	openTestPosition(t, svc, deps, &breaches, nil)

	deps.exchange.setPrice(2026)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))

	require.Nil(t, deps.ledger.Get("ETHUSDT"))
	closed := deps.notifier.closedTrades()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseReasonTakeProfit, closed[0].CloseReason)
	assert.InDelta(t, 2026.0, closed[0].ExitPrice, 1e-6)
	assert.InDelta(t, 13.0, closed[0].PNL, 1e-6)
}

func TestManageTrailingStopTightensAndExits(t *testing.T) {
	ctx := context.Background()
	// A distant percent target leaves the trailing stop in charge.
	svc, deps := newTestService(t, Config{TakeProfitPct: 0.5})
	var breaches int
	openTestPosition(t, svc, deps, &breaches, nil)

	// Activation at +2%: stop trails 3% under the highest price.
	deps.exchange.setPrice(2040)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	pos := deps.ledger.Get("ETHUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 1978.8, pos.TrailingStop, 1e-6)

	// New high tightens the stop.
	deps.exchange.setPrice(2100)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	pos = deps.ledger.Get("ETHUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 2037.0, pos.TrailingStop, 1e-6)

	// A pullback must never loosen it.
	deps.exchange.setPrice(2050)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	pos = deps.ledger.Get("ETHUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 2037.0, pos.TrailingStop, 1e-6)

	// Falling through the stop closes at the trailing level.
	deps.exchange.setPrice(2036)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	require.Nil(t, deps.ledger.Get("ETHUSDT"))

	closed := deps.notifier.closedTrades()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseReasonTrailingStop, closed[0].CloseReason)
	assert.InDelta(t, 2037.0, closed[0].ExitPrice, 1e-6)
	assert.InDelta(t, 18.5, closed[0].PNL, 1e-6)
}

func TestManageStrategyExitRunsLast(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, Config{})
	var breaches int
	openTestPosition(t, svc, deps, &breaches, nil)
	deps.strat.setExit(true, domain.CloseReasonManual)

	// No protective level is near at 2010, so the strategy decides.
	deps.exchange.setPrice(2010)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))

	require.Nil(t, deps.ledger.Get("ETHUSDT"))
	closed := deps.notifier.closedTrades()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseReasonManual, closed[0].CloseReason)
	assert.Equal(t, 2010.0, closed[0].ExitPrice)
	assert.InDelta(t, 5.0, closed[0].PNL, 1e-9)
}

func TestManageIgnoresImplausiblePriceMove(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, Config{})
	var breaches int
	openTestPosition(t, svc, deps, &breaches, nil)

	// A 10% single-tick jump is dropped as bad data.
	deps.exchange.setPrice(2200)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	pos := deps.ledger.Get("ETHUSDT")
	require.NotNil(t, pos)
	assert.Equal(t, 2000.0, pos.CurrentPrice)
	assert.True(t, deps.logger.contains("Ignoring implausible price move"))

	// A plausible tick resumes management; here it trips the percent target.
	deps.exchange.setPrice(2090)
	require.NoError(t, svc.tick(ctx, "ETHUSDT", &breaches))
	require.Nil(t, deps.ledger.Get("ETHUSDT"))
	closed := deps.notifier.closedTrades()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseReasonTakeProfit, closed[0].CloseReason)
	assert.InDelta(t, 2026.0, closed[0].ExitPrice, 1e-6)
}

func TestMonitorReapsStalePositions(t *testing.T) {
	svc, deps := newTestService(t, Config{MonitorInterval: 5 * time.Millisecond})
	var breaches int
	openTestPosition(t, svc, deps, &breaches, nil)

	deps.clock.Advance(73 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		svc.monitorLoop(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor loop did not stop")
	}

	assert.Nil(t, deps.ledger.Get("ETHUSDT"))
	closed := deps.notifier.closedTrades()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseReasonStale, closed[0].CloseReason)
	assert.Equal(t, 2000.0, closed[0].ExitPrice)
	assert.Zero(t, closed[0].PNL)
	assert.True(t, deps.logger.contains("Portfolio summary"))
}

func TestMarkNotifiedResetsOnRollover(t *testing.T) {
	svc, deps := newTestService(t, Config{})

	assert.True(t, svc.markNotified(&svc.lossNotified))
	assert.False(t, svc.markNotified(&svc.lossNotified))
	assert.True(t, svc.markNotified(&svc.profitNotified), "flags are independent")

	deps.clock.Advance(24 * time.Hour)
	assert.True(t, svc.markNotified(&svc.lossNotified), "rollover resets the flags")
}
