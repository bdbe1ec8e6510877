package strategy

import (
	"context"
	"fmt"

	"tradepilot/internal/domain"
	"tradepilot/internal/ports"
	"tradepilot/internal/strategy/indicators"
)

// trendLookback is the number of klines examined by the trend classifier.
const trendLookback = 20

// AnalysisConfig holds the indicator periods used to build market snapshots.
type AnalysisConfig struct {
	EMAFastPeriod    int     // e.g., 20
	EMASlowPeriod    int     // e.g., 50
	EMATrendPeriod   int     // e.g., 200
	RSIPeriod        int     // e.g., 14
	MACDFastPeriod   int     // e.g., 12
	MACDSlowPeriod   int     // e.g., 26
	MACDSignalPeriod int     // e.g., 9
	ATRPeriod        int     // e.g., 14
	VolumePeriod     int     // e.g., 20
	RSIOverbought    float64 // e.g., 70.0
	RSIOversold      float64 // e.g., 35.0
}

// Analyzer computes a full MarketSnapshot from raw candles. It holds no
// per-symbol state and is safe for concurrent use by the instrument loops.
type Analyzer struct {
	cfg      AnalysisConfig
	logger   ports.Logger
	emaFast  *indicators.MovingAverage
	emaSlow  *indicators.MovingAverage
	emaTrend *indicators.MovingAverage
	rsi      *indicators.RSI
	macd     *indicators.MACD
	atr      *indicators.ATR
	volume   *indicators.VolumeRatio
	vwap     *indicators.VWAP
}

// NewAnalyzer creates an Analyzer from the given indicator configuration.
func NewAnalyzer(cfg AnalysisConfig, logger ports.Logger) (*Analyzer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for analyzer")
	}
	if cfg.EMAFastPeriod <= 0 || cfg.EMASlowPeriod <= 0 || cfg.EMATrendPeriod <= 0 ||
		cfg.RSIPeriod <= 0 || cfg.ATRPeriod <= 0 || cfg.VolumePeriod <= 0 {
		return nil, fmt.Errorf("analyzer periods must be positive")
	}
	if cfg.EMAFastPeriod >= cfg.EMASlowPeriod || cfg.EMASlowPeriod >= cfg.EMATrendPeriod {
		return nil, fmt.Errorf("EMA periods must be ordered fast < slow < trend")
	}
	if cfg.MACDFastPeriod <= 0 || cfg.MACDSlowPeriod <= cfg.MACDFastPeriod || cfg.MACDSignalPeriod <= 0 {
		return nil, fmt.Errorf("invalid MACD periods %d/%d/%d", cfg.MACDFastPeriod, cfg.MACDSlowPeriod, cfg.MACDSignalPeriod)
	}

	newEMA := func(period int) *indicators.MovingAverage {
		return indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: period},
			Type:            indicators.ExponentialMovingAverage,
		})
	}

	return &Analyzer{
		cfg:      cfg,
		logger:   logger,
		emaFast:  newEMA(cfg.EMAFastPeriod),
		emaSlow:  newEMA(cfg.EMASlowPeriod),
		emaTrend: newEMA(cfg.EMATrendPeriod),
		rsi: indicators.NewRSI(indicators.RSIConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod},
			Overbought:      cfg.RSIOverbought,
			Oversold:        cfg.RSIOversold,
		}),
		macd: indicators.NewMACD(indicators.MACDConfig{
			FastPeriod:   cfg.MACDFastPeriod,
			SlowPeriod:   cfg.MACDSlowPeriod,
			SignalPeriod: cfg.MACDSignalPeriod,
		}),
		atr:    indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ATRPeriod}}),
		volume: indicators.NewVolumeRatio(indicators.VolumeRatioConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.VolumePeriod}}),
		vwap:   indicators.NewVWAP(),
	}, nil
}

// RequiredDataPoints returns the minimum number of klines needed to populate
// every field of the snapshot.
func (a *Analyzer) RequiredDataPoints() int {
	required := a.cfg.EMATrendPeriod
	if macd := a.macd.RequiredDataPoints(); macd > required {
		required = macd
	}
	if rsi := a.cfg.RSIPeriod + 1; rsi > required {
		required = rsi
	}
	if a.cfg.VolumePeriod > required {
		required = a.cfg.VolumePeriod
	}
	if trendLookback > required {
		required = trendLookback
	}
	return required
}

// Snapshot computes every indicator over the candles and assembles the
// snapshot the strategy and risk engine consume. currentPrice overrides the
// last close as the snapshot price when positive; trend classification always
// works off closed candles.
func (a *Analyzer) Snapshot(ctx context.Context, symbol string, klines []*domain.Kline, currentPrice float64) (*domain.MarketSnapshot, error) {
	if required := a.RequiredDataPoints(); len(klines) < required {
		return nil, fmt.Errorf("not enough klines (%d) for snapshot, need %d", len(klines), required)
	}

	emaFast, err := a.emaFast.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("fast EMA: %w", err)
	}
	emaSlow, err := a.emaSlow.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("slow EMA: %w", err)
	}
	emaTrend, err := a.emaTrend.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("trend EMA: %w", err)
	}
	rsi, err := a.rsi.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("RSI: %w", err)
	}
	macd, err := a.macd.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("MACD: %w", err)
	}
	atr, err := a.atr.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("ATR: %w", err)
	}
	volumeRatio, err := a.volume.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("volume ratio: %w", err)
	}
	vwap, err := a.vwap.Calculate(ctx, klines)
	if err != nil {
		a.logger.Debug(ctx, "VWAP unavailable, leaving it unset",
			map[string]interface{}{"symbol": symbol, "error": err.Error()})
		vwap = 0
	}

	lastClose := klines[len(klines)-1].Close
	if lastClose <= 0 {
		return nil, fmt.Errorf("last close %.8f is not positive", lastClose)
	}

	price := currentPrice
	if price <= 0 {
		price = lastClose
	}

	return &domain.MarketSnapshot{
		Symbol:      symbol,
		Price:       price,
		EMAFast:     emaFast,
		EMASlow:     emaSlow,
		EMATrend:    emaTrend,
		RSI:         rsi,
		MACD:        macd.MACD,
		MACDSignal:  macd.Signal,
		MACDHist:    macd.Histogram,
		ATR:         atr,
		ATRPct:      atr / lastClose * 100,
		VolumeRatio: volumeRatio,
		VWAP:        vwap,
		Trend:       classifyTrend(klines, emaFast, emaSlow, emaTrend, atr),
	}, nil
}

// HigherTF computes the higher-timeframe confirmation block from 4h candles.
// An invalid block (insufficient data or failed indicators) fails entry
// confirmation rather than bypassing it.
func (a *Analyzer) HigherTF(ctx context.Context, klines []*domain.Kline) *domain.HigherTFSnapshot {
	required := a.cfg.EMATrendPeriod
	if macd := a.macd.RequiredDataPoints(); macd > required {
		required = macd
	}
	if len(klines) < required {
		a.logger.Debug(ctx, "Insufficient higher timeframe data",
			map[string]interface{}{"available": len(klines), "required": required})
		return &domain.HigherTFSnapshot{Valid: false}
	}

	emaFast, err1 := a.emaFast.Calculate(ctx, klines)
	emaMid, err2 := a.emaSlow.Calculate(ctx, klines)
	emaSlow, err3 := a.emaTrend.Calculate(ctx, klines)
	macd, err4 := a.macd.Calculate(ctx, klines)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return &domain.HigherTFSnapshot{Valid: false}
	}

	return &domain.HigherTFSnapshot{
		Valid:      true,
		Price:      klines[len(klines)-1].Close,
		EMAFast:    emaFast,
		EMAMid:     emaMid,
		EMASlow:    emaSlow,
		MACD:       macd.MACD,
		MACDSignal: macd.Signal,
		MACDHist:   macd.Histogram,
	}
}

// classifyTrend applies three stacked filters over the last twenty candles:
// an ATR-relative range check that catches tight chop, a price structure
// check (higher highs and higher lows, or lower and lower), and an EMA
// alignment check. A direction is only reported when all three agree.
func classifyTrend(klines []*domain.Kline, emaFast, emaSlow, emaTrend, atr float64) domain.Trend {
	if len(klines) < trendLookback || atr <= 0 {
		return domain.TrendSideways
	}

	recent := klines[len(klines)-trendLookback:]
	price := recent[len(recent)-1].Close
	if price <= 0 {
		return domain.TrendSideways
	}

	half := trendLookback / 2
	firstHalf := recent[:half]
	secondHalf := recent[half:]

	secondHigh, secondLow := highLowRange(secondHalf)
	if secondHigh-secondLow < 2*atr {
		return domain.TrendSideways
	}

	firstHigh, firstLow := highLowRange(firstHalf)
	structureBullish := secondHigh > firstHigh && secondLow > firstLow
	structureBearish := secondHigh < firstHigh && secondLow < firstLow
	if !structureBullish && !structureBearish {
		return domain.TrendSideways
	}

	emaBullish := emaFast > emaSlow && emaSlow > emaTrend
	emaBearish := emaFast < emaSlow && emaSlow < emaTrend

	switch {
	case structureBullish && emaBullish:
		return domain.TrendBullish
	case structureBearish && emaBearish:
		return domain.TrendBearish
	default:
		return domain.TrendSideways
	}
}

func highLowRange(klines []*domain.Kline) (high, low float64) {
	high = klines[0].High
	low = klines[0].Low
	for _, k := range klines[1:] {
		if k.High > high {
			high = k.High
		}
		if k.Low < low {
			low = k.Low
		}
	}
	return high, low
}
