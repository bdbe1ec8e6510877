package ports

import (
	"context"
	"time"

	"tradepilot/internal/domain"
)

// StateRepository defines the interface for persisting daily account state.
type StateRepository interface {
	// LoadDailyState retrieves the persisted daily state, if any.
	// Returns nil, nil when no state has been saved yet.
	LoadDailyState(ctx context.Context) (*domain.DailyState, error)
	// SaveDailyState persists the daily state, replacing any previous snapshot.
	SaveDailyState(ctx context.Context, state *domain.DailyState) error
}

// TradeRepository defines the interface for storing and retrieving completed trades.
type TradeRepository interface {
	// RecordTrade saves a new trade record and returns its assigned ID.
	RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// FindSince retrieves all trades closed at or after the given time, oldest first.
	FindSince(ctx context.Context, since time.Time) ([]*domain.Trade, error)
	// CountSince counts trades closed at or after the given time.
	CountSince(ctx context.Context, since time.Time) (int, error)
	// TotalProfit calculates the sum of PNL across all recorded trades.
	TotalProfit(ctx context.Context) (float64, error)
	// WinLossCounts returns the lifetime counts of winning and losing trades.
	WinLossCounts(ctx context.Context) (wins, losses int, err error)
}

// Repository aggregates the persistence interfaces the trading service needs.
type Repository interface {
	StateRepository
	TradeRepository
}
