package strategy

import (
	"context"
	"fmt"
	"math"

	"tradepilot/internal/domain"
	"tradepilot/internal/ports"
)

// MomentumConfig holds parameters for the momentum strategy.
type MomentumConfig struct {
	MinScore        float64 // Minimum momentum score to enter, e.g. 0.75
	RSIOverbought   float64 // Entry blocked above this RSI, e.g. 70.0
	MinVolumeRatio  float64 // Entry requires at least this volume surge, e.g. 2.0
	RSIExit         float64 // Exit when RSI climbs above this, e.g. 75.0
	WeakScoreExit   float64 // Exit when the score decays below this, e.g. 0.3
	LowVolumeExit   float64 // Exit when volume dries up below this ratio, e.g. 0.5
	StopLossPct     float64 // Fixed initial stop distance from entry, e.g. 0.05
	TakeProfitMult  float64 // Entry price multiplier for the take profit, e.g. 10.0
	MinCandles      int     // Candles the orchestrator must supply, e.g. 200
}

// Momentum identifies and rides strong directional moves. Entries require a
// weighted multi-indicator score plus trend, volume and higher-timeframe
// confirmation; the take profit is set intentionally out of reach so exits
// are governed by the protective stops and the weakening checks here.
type Momentum struct {
	cfg    MomentumConfig
	logger ports.Logger
}

// NewMomentum creates a new momentum strategy instance.
func NewMomentum(cfg MomentumConfig, logger ports.Logger) (*Momentum, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for momentum strategy")
	}
	if cfg.MinScore <= 0 || cfg.MinScore > 1 {
		return nil, fmt.Errorf("minimum score %.2f must be in (0, 1]", cfg.MinScore)
	}
	if cfg.StopLossPct <= 0 || cfg.StopLossPct >= 1 {
		return nil, fmt.Errorf("stop loss percent %.2f must be in (0, 1)", cfg.StopLossPct)
	}
	if cfg.TakeProfitMult <= 1 {
		return nil, fmt.Errorf("take profit multiplier %.2f must exceed 1", cfg.TakeProfitMult)
	}
	if cfg.MinCandles <= 0 {
		return nil, fmt.Errorf("minimum candle count must be positive")
	}
	return &Momentum{cfg: cfg, logger: logger}, nil
}

// Name returns the strategy identifier recorded on positions and trades.
func (m *Momentum) Name() string {
	return "momentum"
}

// RequiredDataPoints returns the minimum number of klines needed for the
// strategy calculations.
func (m *Momentum) RequiredDataPoints() int {
	return m.cfg.MinCandles
}

// momentumBreakdown carries the weighted score and its components.
type momentumBreakdown struct {
	Score          float64
	TrendBullish   bool
	TrendStrength  float64
	RSIMomentum    float64
	MACDMomentum   float64
	VolumeMomentum float64
	VWAPStrength   float64
}

// analyzeMomentum scores the snapshot between 0 and 1. Trend alignment
// dominates the weighting, momentum oscillators and participation fill in
// the rest.
func (m *Momentum) analyzeMomentum(snap *domain.MarketSnapshot) momentumBreakdown {
	var b momentumBreakdown

	b.TrendBullish = snap.Price > snap.EMAFast &&
		snap.EMAFast > snap.EMASlow &&
		snap.EMASlow > snap.EMATrend &&
		snap.EMATrend > 0
	if b.TrendBullish {
		separation := (snap.EMAFast - snap.EMATrend) / snap.EMATrend * 100
		b.TrendStrength = math.Min(separation/5.0, 1.0)
	}

	switch {
	case snap.RSI > 50 && snap.RSI < 70:
		b.RSIMomentum = 1.0
	case snap.RSI > 40 && snap.RSI < 50:
		b.RSIMomentum = 0.5
	case snap.RSI > 70 && snap.RSI < 80:
		b.RSIMomentum = 0.7
	}

	if snap.MACD > snap.MACDSignal && snap.MACDHist > 0 && snap.MACD != 0 {
		b.MACDMomentum = math.Min(math.Abs(snap.MACDHist)/math.Abs(snap.MACD), 1.0)
	}

	b.VolumeMomentum = math.Min(snap.VolumeRatio/2.0, 1.0)

	b.VWAPStrength = 0.3
	if snap.VWAP > 0 && snap.Price > snap.VWAP {
		b.VWAPStrength = 1.0
	}

	b.Score = b.TrendStrength*0.35 +
		b.RSIMomentum*0.25 +
		b.MACDMomentum*0.20 +
		b.VolumeMomentum*0.10 +
		b.VWAPStrength*0.10

	return b
}

// EvaluateEntry decides whether a long position should be opened. All gates
// must pass: score, RSI headroom, EMA trend alignment, a breakout-level
// volume surge, and higher-timeframe confirmation.
func (m *Momentum) EvaluateEntry(ctx context.Context, snap *domain.MarketSnapshot) (*domain.EntrySignal, bool) {
	b := m.analyzeMomentum(snap)

	if b.Score < m.cfg.MinScore {
		m.logger.Debug(ctx, "Momentum score below entry threshold", map[string]interface{}{
			"symbol": snap.Symbol, "score": b.Score, "minScore": m.cfg.MinScore})
		return nil, false
	}
	if snap.RSI > m.cfg.RSIOverbought {
		m.logger.Debug(ctx, "RSI overbought, entry blocked", map[string]interface{}{
			"symbol": snap.Symbol, "rsi": snap.RSI, "limit": m.cfg.RSIOverbought})
		return nil, false
	}
	if !b.TrendBullish {
		m.logger.Debug(ctx, "EMA trend not bullish, entry blocked", map[string]interface{}{
			"symbol": snap.Symbol, "score": b.Score})
		return nil, false
	}
	if snap.VolumeRatio < m.cfg.MinVolumeRatio {
		m.logger.Debug(ctx, "Insufficient volume surge for entry", map[string]interface{}{
			"symbol": snap.Symbol, "volumeRatio": snap.VolumeRatio, "required": m.cfg.MinVolumeRatio})
		return nil, false
	}
	if !snap.HigherTF.Confirmed() {
		m.logger.Info(ctx, "Higher timeframe filter rejected entry", map[string]interface{}{
			"symbol": snap.Symbol, "score": b.Score})
		return nil, false
	}

	signal := &domain.EntrySignal{
		Symbol:     snap.Symbol,
		Side:       domain.Buy,
		Confidence: b.Score,
		EntryPrice: snap.Price,
		StopLoss:   snap.Price * (1 - m.cfg.StopLossPct),
		TakeProfit: snap.Price * m.cfg.TakeProfitMult,
		Strategy:   m.Name(),
	}

	m.logger.Info(ctx, "Momentum entry signal", map[string]interface{}{
		"symbol":      snap.Symbol,
		"score":       b.Score,
		"volumeRatio": snap.VolumeRatio,
		"entryPrice":  signal.EntryPrice,
		"stopLoss":    signal.StopLoss,
	})
	return signal, true
}

// EvaluateExit closes a position when momentum decays: RSI stretched, MACD
// or EMA crossing bearish, score collapsing, or volume drying up. Protective
// stop loss, take profit and trailing stop exits are handled before this runs.
func (m *Momentum) EvaluateExit(ctx context.Context, snap *domain.MarketSnapshot, pos *domain.Position) (bool, domain.CloseReason) {
	if snap.RSI > m.cfg.RSIExit {
		m.logger.Info(ctx, "Exit: RSI overbought", map[string]interface{}{
			"symbol": snap.Symbol, "rsi": snap.RSI})
		return true, domain.CloseReasonManual
	}
	if snap.MACD < snap.MACDSignal {
		m.logger.Info(ctx, "Exit: MACD bearish crossover", map[string]interface{}{
			"symbol": snap.Symbol, "macd": snap.MACD, "signal": snap.MACDSignal})
		return true, domain.CloseReasonManual
	}
	if snap.EMAFast < snap.EMASlow {
		m.logger.Info(ctx, "Exit: EMA bearish crossover", map[string]interface{}{
			"symbol": snap.Symbol, "emaFast": snap.EMAFast, "emaSlow": snap.EMASlow})
		return true, domain.CloseReasonManual
	}
	if b := m.analyzeMomentum(snap); b.Score < m.cfg.WeakScoreExit {
		m.logger.Info(ctx, "Exit: momentum weakened", map[string]interface{}{
			"symbol": snap.Symbol, "score": b.Score})
		return true, domain.CloseReasonManual
	}
	if snap.VolumeRatio < m.cfg.LowVolumeExit {
		m.logger.Info(ctx, "Exit: volume dried up", map[string]interface{}{
			"symbol": snap.Symbol, "volumeRatio": snap.VolumeRatio})
		return true, domain.CloseReasonManual
	}
	return false, ""
}
