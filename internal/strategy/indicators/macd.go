package indicators

import (
	"context"
	"fmt"

	"tradepilot/internal/domain"
)

// MACDConfig holds configuration for the MACD indicator
type MACDConfig struct {
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
}

// MACDResult holds the three output series values of the MACD at the latest kline
type MACDResult struct {
	MACD      float64 // Fast EMA minus slow EMA
	Signal    float64 // EMA of the MACD line
	Histogram float64 // MACD minus signal
}

// IsBullish reports whether the MACD line is above its signal with a positive histogram
func (r MACDResult) IsBullish() bool {
	return r.MACD > r.Signal && r.Histogram > 0
}

// MACD implements the Moving Average Convergence Divergence indicator
type MACD struct {
	config MACDConfig
}

// NewMACD creates a new MACD indicator instance
func NewMACD(config MACDConfig) *MACD {
	return &MACD{
		config: config,
	}
}

// Name returns the name of the indicator
func (m *MACD) Name() string {
	return "MACD"
}

// RequiredDataPoints returns the minimum number of klines needed for calculation
func (m *MACD) RequiredDataPoints() int {
	return m.config.SlowPeriod + m.config.SignalPeriod
}

// Calculate computes the MACD line, signal line and histogram for the latest kline
func (m *MACD) Calculate(ctx context.Context, klines []*domain.Kline) (MACDResult, error) {
	required := m.RequiredDataPoints()
	if len(klines) < required {
		return MACDResult{}, fmt.Errorf("not enough data (%d) to calculate MACD %d/%d/%d, need %d",
			len(klines), m.config.FastPeriod, m.config.SlowPeriod, m.config.SignalPeriod, required)
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}

	fastEMA := emaSeries(closes, m.config.FastPeriod)
	slowEMA := emaSeries(closes, m.config.SlowPeriod)

	// The MACD line starts where the slow EMA becomes defined.
	offset := m.config.SlowPeriod - m.config.FastPeriod
	macdLine := make([]float64, len(slowEMA))
	for i := range slowEMA {
		macdLine[i] = fastEMA[i+offset] - slowEMA[i]
	}

	signalLine := emaSeries(macdLine, m.config.SignalPeriod)
	if len(signalLine) == 0 {
		return MACDResult{}, fmt.Errorf("not enough MACD values (%d) for signal period %d", len(macdLine), m.config.SignalPeriod)
	}

	macd := macdLine[len(macdLine)-1]
	signal := signalLine[len(signalLine)-1]

	return MACDResult{
		MACD:      macd,
		Signal:    signal,
		Histogram: macd - signal,
	}, nil
}

// emaSeries computes the exponential moving average over raw values. The
// result is aligned so that index i corresponds to values[period-1+i]; the
// first element is seeded with the simple average of the first period values.
func emaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	out := make([]float64, 0, len(values)-period+1)

	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out = append(out, ema)

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out = append(out, ema)
	}
	return out
}
