package ports

import (
	"context"

	"tradepilot/internal/domain"
)

// Notifier defines the interface for pushing trading lifecycle events to an
// external channel. Implementations must not block the trading loops; failures
// are logged and swallowed by the caller.
type Notifier interface {
	// PositionOpened reports a newly opened position.
	PositionOpened(ctx context.Context, pos *domain.Position)

	// PositionClosed reports a closed position together with its realised
	// outcome.
	PositionClosed(ctx context.Context, trade *domain.Trade)

	// DailyLossLimitReached reports that trading halted for the day after the
	// daily loss limit was breached.
	DailyLossLimitReached(ctx context.Context, dailyPNL, limit float64)

	// DailyProfitTargetReached reports that the daily profit target was met.
	// Trading continues; the event fires once per day.
	DailyProfitTargetReached(ctx context.Context, dailyPNL, target float64)
}
