package domain

import "time"

// Trade represents a completed trade event. Records are append-only:
// created once by the close path, never mutated.
type Trade struct {
	ID          int64       // Unique identifier for the trade (from DB)
	Symbol      string      // Trading symbol (e.g., "BTCUSDT")
	Side        OrderSide   // Side of the opening order
	EntryPrice  float64     // Price at which the position was entered
	ExitPrice   float64     // Price at which the position was exited
	Quantity    float64     // Size of the position traded
	PNL         float64     // Realized profit and loss
	PNLPct      float64     // Realized P&L as a percentage of entry
	EntryTime   time.Time   // When the position was entered
	ExitTime    time.Time   // When the position was exited
	CloseReason CloseReason // Why the position was closed
	Strategy    string      // Strategy that opened the position
}

// IsWin reports whether the trade realized a profit.
func (t *Trade) IsWin() bool {
	return t.PNL > 0
}

// DailyState holds the durable portfolio counters for one calendar day.
// Lifetime counters are recomputed from the trade log at load time.
type DailyState struct {
	Date           string    // Calendar day stamp, YYYY-MM-DD
	Balance        float64   // Account balance after the last realized close
	InitialBalance float64   // Balance the account started with
	DailyPNL       float64   // Realized P&L accumulated today
	DailyTrades    int       // Positions closed today
	TotalTrades    int       // Lifetime closed positions
	WinningTrades  int       // Lifetime profitable closes
	LosingTrades   int       // Lifetime unprofitable closes
	UpdatedAt      time.Time // Last save time
}

// PortfolioSummary is a point-in-time view of the portfolio for
// monitoring and reporting.
type PortfolioSummary struct {
	Balance        float64
	InitialBalance float64
	TotalPNL       float64
	TotalPNLPct    float64
	UnrealizedPNL  float64
	PortfolioHeat  float64
	OpenPositions  int
	DailyPNL       float64
	DailyTrades    int
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        float64
}
