package domain

// MarketSnapshot is the typed market view handed between the orchestrator,
// the strategy and the risk engine. All indicator values refer to the
// primary (5m) timeframe unless noted.
type MarketSnapshot struct {
	Symbol      string
	Price       float64 // Latest traded price (ticker, not candle close)
	EMAFast     float64
	EMASlow     float64
	EMATrend    float64
	RSI         float64
	MACD        float64
	MACDSignal  float64
	MACDHist    float64
	ATR         float64
	ATRPct      float64 // ATR as a percentage of price
	VolumeRatio float64 // Last volume over its 20-period average
	VWAP        float64
	Trend       Trend

	// HigherTF carries the 4h confirmation values. Nil means the higher
	// timeframe could not be fetched and the check is bypassed; a non-nil
	// block with Valid=false means data arrived but was insufficient.
	HigherTF *HigherTFSnapshot
}

// HigherTFSnapshot holds the higher-timeframe values used to confirm
// entries.
type HigherTFSnapshot struct {
	Valid      bool // False when too few candles to compute the EMAs
	Price      float64
	EMAFast    float64
	EMAMid     float64
	EMASlow    float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
}

// Confirmed reports whether the higher timeframe supports a long entry:
// EMAs aligned with price above the fast one, and MACD bullish.
func (h *HigherTFSnapshot) Confirmed() bool {
	if h == nil {
		// No higher-timeframe data at all: do not block the entry.
		return true
	}
	if !h.Valid {
		return false
	}
	emaAligned := h.EMAFast > h.EMAMid && h.EMAMid > h.EMASlow && h.Price > h.EMAFast
	macdBullish := h.MACD > h.MACDSignal && h.MACDHist > 0
	return emaAligned && macdBullish
}

// EntrySignal is a strategy's proposal to open a position.
type EntrySignal struct {
	Symbol     string
	Side       OrderSide
	Confidence float64 // 0.0 to 1.0
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Strategy   string
}
