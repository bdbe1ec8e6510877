package strategy

import (
	"context"
	"fmt"

	"tradepilot/internal/domain"
	"tradepilot/internal/ports"
)

// CrossoverConfig holds parameters for the EMA crossover strategy.
type CrossoverConfig struct {
	RSIFloor       float64 // Entry requires RSI above this, e.g. 35.0
	RSICeiling     float64 // Entry blocked above this RSI, e.g. 68.0
	MinVolumeRatio float64 // Volume confirmation threshold, e.g. 1.1
	ATRStopMult    float64 // Stop distance in ATR multiples, e.g. 2.5
	TakeProfitPct  float64 // Take profit fraction over entry, e.g. 0.04
	MinCandles     int     // Candles the orchestrator must supply, e.g. 200
}

// Volatility-scaled stops are clamped to this range so a dead-calm market
// cannot place the stop on top of the entry, nor a wild one miles away.
const (
	minStopDistancePct = 0.005
	maxStopDistancePct = 0.10
)

// Crossover trades bullish EMA alignment. It is less selective than the
// momentum strategy: entries need price above an aligned fast/slow EMA pair
// inside a healthy RSI band plus two secondary confirmations, and the stop
// distance scales with volatility instead of being fixed.
type Crossover struct {
	cfg    CrossoverConfig
	logger ports.Logger
}

// NewCrossover creates a new crossover strategy instance.
func NewCrossover(cfg CrossoverConfig, logger ports.Logger) (*Crossover, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for crossover strategy")
	}
	if cfg.RSIFloor < 0 || cfg.RSICeiling > 100 || cfg.RSIFloor >= cfg.RSICeiling {
		return nil, fmt.Errorf("RSI band %.1f..%.1f must be ordered within 0..100", cfg.RSIFloor, cfg.RSICeiling)
	}
	if cfg.MinVolumeRatio <= 0 {
		return nil, fmt.Errorf("minimum volume ratio %.2f must be positive", cfg.MinVolumeRatio)
	}
	if cfg.ATRStopMult <= 0 {
		return nil, fmt.Errorf("ATR stop multiplier %.2f must be positive", cfg.ATRStopMult)
	}
	if cfg.TakeProfitPct <= 0 || cfg.TakeProfitPct >= 1 {
		return nil, fmt.Errorf("take profit percent %.2f must be in (0, 1)", cfg.TakeProfitPct)
	}
	if cfg.MinCandles <= 0 {
		return nil, fmt.Errorf("minimum candle count must be positive")
	}
	return &Crossover{cfg: cfg, logger: logger}, nil
}

// Name returns the strategy identifier recorded on positions and trades.
func (c *Crossover) Name() string {
	return "crossover"
}

// RequiredDataPoints returns the minimum number of klines needed for the
// strategy calculations.
func (c *Crossover) RequiredDataPoints() int {
	return c.cfg.MinCandles
}

// confirmations counts the secondary bullish signals backing an aligned
// snapshot: MACD momentum, volume participation, price above VWAP and the
// closed-candle trend classification.
func (c *Crossover) confirmations(snap *domain.MarketSnapshot) int {
	n := 0
	if snap.MACD > snap.MACDSignal && snap.MACDHist > 0 {
		n++
	}
	if snap.VolumeRatio >= c.cfg.MinVolumeRatio {
		n++
	}
	if snap.VWAP > 0 && snap.Price > snap.VWAP {
		n++
	}
	if snap.Trend == domain.TrendBullish {
		n++
	}
	return n
}

// stopLoss places the stop ATRStopMult average true ranges under the entry,
// clamped to the allowed distance range.
func (c *Crossover) stopLoss(price, atrPct float64) float64 {
	distance := c.cfg.ATRStopMult * atrPct / 100
	if distance < minStopDistancePct {
		distance = minStopDistancePct
	}
	if distance > maxStopDistancePct {
		distance = maxStopDistancePct
	}
	return price * (1 - distance)
}

// EvaluateEntry decides whether a long position should be opened. The EMA
// alignment and RSI band are hard gates; at least two of the four secondary
// confirmations and the higher timeframe must also agree.
func (c *Crossover) EvaluateEntry(ctx context.Context, snap *domain.MarketSnapshot) (*domain.EntrySignal, bool) {
	aligned := snap.Price > snap.EMAFast && snap.EMAFast > snap.EMASlow
	if !aligned {
		c.logger.Debug(ctx, "EMA alignment missing, entry blocked", map[string]interface{}{
			"symbol": snap.Symbol, "price": snap.Price, "emaFast": snap.EMAFast, "emaSlow": snap.EMASlow})
		return nil, false
	}
	if snap.RSI <= c.cfg.RSIFloor || snap.RSI >= c.cfg.RSICeiling {
		c.logger.Debug(ctx, "RSI outside healthy band, entry blocked", map[string]interface{}{
			"symbol": snap.Symbol, "rsi": snap.RSI, "floor": c.cfg.RSIFloor, "ceiling": c.cfg.RSICeiling})
		return nil, false
	}

	confirmed := c.confirmations(snap)
	if confirmed < 2 {
		c.logger.Debug(ctx, "Too few crossover confirmations", map[string]interface{}{
			"symbol": snap.Symbol, "confirmations": confirmed})
		return nil, false
	}
	if !snap.HigherTF.Confirmed() {
		c.logger.Info(ctx, "Higher timeframe filter rejected entry", map[string]interface{}{
			"symbol": snap.Symbol, "confirmations": confirmed})
		return nil, false
	}

	signal := &domain.EntrySignal{
		Symbol:     snap.Symbol,
		Side:       domain.Buy,
		Confidence: 0.6 + 0.1*float64(confirmed),
		EntryPrice: snap.Price,
		StopLoss:   c.stopLoss(snap.Price, snap.ATRPct),
		TakeProfit: snap.Price * (1 + c.cfg.TakeProfitPct),
		Strategy:   c.Name(),
	}

	c.logger.Info(ctx, "Crossover entry signal", map[string]interface{}{
		"symbol":        snap.Symbol,
		"confirmations": confirmed,
		"confidence":    signal.Confidence,
		"entryPrice":    signal.EntryPrice,
		"stopLoss":      signal.StopLoss,
		"atrPct":        snap.ATRPct,
	})
	return signal, true
}

// EvaluateExit closes a position when the alignment that justified it is
// gone. A bearish EMA cross exits unconditionally; otherwise a profitable
// position exits once two reversal signals stack up. Protective stop loss,
// take profit and trailing stop exits are handled before this runs.
func (c *Crossover) EvaluateExit(ctx context.Context, snap *domain.MarketSnapshot, pos *domain.Position) (bool, domain.CloseReason) {
	if snap.EMAFast < snap.EMASlow {
		c.logger.Info(ctx, "Exit: EMA bearish crossover", map[string]interface{}{
			"symbol": snap.Symbol, "emaFast": snap.EMAFast, "emaSlow": snap.EMASlow})
		return true, domain.CloseReasonManual
	}

	var profitPct float64
	if pos.EntryPrice > 0 {
		profitPct = (snap.Price - pos.EntryPrice) / pos.EntryPrice * 100
	}

	reversals := 0
	if snap.Price < snap.EMAFast {
		reversals++
	}
	if snap.MACD < snap.MACDSignal {
		reversals++
	}
	if snap.RSI > c.cfg.RSICeiling {
		reversals++
	}

	// Only a position already in profit is closed on stacked reversal
	// signals; a losing one is left to the protective stops.
	if profitPct > 0.2 && reversals >= 2 {
		c.logger.Info(ctx, "Exit: reversal signals stacked", map[string]interface{}{
			"symbol": snap.Symbol, "reversals": reversals, "profitPct": profitPct})
		return true, domain.CloseReasonManual
	}
	return false, ""
}
