package domain

import "time"

// Position represents one open exposure in a single instrument, tracked
// from confirmed fill to close.
type Position struct {
	Symbol       string    // Trading symbol (e.g., "BTCUSDT")
	Side         OrderSide // BUY for long, SELL for short
	EntryPrice   float64   // Fill price at entry
	Quantity     float64   // Size of the position in base asset
	StopLoss     float64   // Price level that triggers a stop-loss exit
	TakeProfit   float64   // Price level for take-profit (may be intentionally unreachable)
	EntryTime    time.Time // When the position was entered
	CurrentPrice float64   // Last observed price that passed the sanity filter
	HighestPrice float64   // Best favorable price since entry (lowest for shorts)
	TrailingStop float64   // Current trailing stop level, 0 until activated
	Strategy     string    // Name of the strategy that opened the position
}

// PositionValue returns the current market value of the position, falling
// back to the entry valuation before the first tick arrives.
func (p *Position) PositionValue() float64 {
	if p.CurrentPrice > 0 {
		return p.Quantity * p.CurrentPrice
	}
	return p.Quantity * p.EntryPrice
}

// UnrealizedPNL returns the mark-to-market profit or loss at the last
// observed price.
func (p *Position) UnrealizedPNL() float64 {
	if p.CurrentPrice == 0 {
		return 0
	}
	if p.Side == Buy {
		return (p.CurrentPrice - p.EntryPrice) * p.Quantity
	}
	return (p.EntryPrice - p.CurrentPrice) * p.Quantity
}

// UnrealizedPNLPct returns the unrealized profit or loss as a percentage
// of the entry price.
func (p *Position) UnrealizedPNLPct() float64 {
	if p.EntryPrice == 0 || p.CurrentPrice == 0 {
		return 0
	}
	if p.Side == Buy {
		return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
	}
	return (p.EntryPrice - p.CurrentPrice) / p.EntryPrice * 100
}

// RiskAmount returns the capital at risk: distance to the stop times size.
func (p *Position) RiskAmount() float64 {
	diff := p.EntryPrice - p.StopLoss
	if diff < 0 {
		diff = -diff
	}
	return diff * p.Quantity
}

// Age returns how long the position has been open.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}
