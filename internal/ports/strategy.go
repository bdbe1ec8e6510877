package ports

import (
	"context"

	"tradepilot/internal/domain"
)

// MarketAnalyzer builds indicator snapshots from raw candles for strategy
// evaluation.
type MarketAnalyzer interface {
	// RequiredDataPoints returns the minimum number of klines needed to
	// compute a full snapshot.
	RequiredDataPoints() int

	// Snapshot computes the indicator state for one symbol from its most
	// recent candles and the latest traded price.
	Snapshot(ctx context.Context, symbol string, klines []*domain.Kline, currentPrice float64) (*domain.MarketSnapshot, error)

	// HigherTF computes the higher-timeframe trend state used to confirm
	// entries. A nil result disables confirmation for the snapshot.
	HigherTF(ctx context.Context, klines []*domain.Kline) *domain.HigherTFSnapshot
}

// Strategy defines the interface for trading strategies. Implementations are
// pure functions of the market snapshot and must not place orders or mutate
// shared state.
type Strategy interface {
	// Name returns the strategy identifier recorded on positions and trades.
	Name() string

	// RequiredDataPoints returns the minimum number of klines needed for the
	// strategy calculations.
	RequiredDataPoints() int

	// EvaluateEntry decides whether a new position should be opened given the
	// current market snapshot. Returns the proposed signal and true when all
	// entry conditions hold.
	EvaluateEntry(ctx context.Context, snapshot *domain.MarketSnapshot) (*domain.EntrySignal, bool)

	// EvaluateExit decides whether an open position should be closed for
	// strategy reasons. Protective exits (stop loss, take profit, trailing
	// stop) are handled by the caller before this is consulted.
	EvaluateExit(ctx context.Context, snapshot *domain.MarketSnapshot, position *domain.Position) (bool, domain.CloseReason)
}
