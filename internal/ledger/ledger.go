// Package ledger holds the in-memory map of open positions. It contains no
// trading logic; it exists to make the one-position-per-symbol invariant
// mechanically enforceable and to serialize every mutation of position state
// behind a single lock.
package ledger

import (
	"fmt"
	"sync"

	"tradepilot/internal/domain"
	"tradepilot/internal/ports"
)

// Ledger is the single mutation point for open positions. All methods are
// safe for concurrent use; accessors return copies so callers can never
// mutate ledger state directly.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		positions: make(map[string]*domain.Position),
	}
}

// Add registers a newly opened position. It fails with ErrDuplicatePosition
// if the symbol already has one, and with ErrInvalidRequest if the position
// violates its own invariants.
func (l *Ledger) Add(pos *domain.Position) error {
	if pos == nil {
		return fmt.Errorf("position is nil: %w", ports.ErrInvalidRequest)
	}
	if pos.Symbol == "" {
		return fmt.Errorf("position symbol is empty: %w", ports.ErrInvalidRequest)
	}
	if pos.Quantity <= 0 {
		return fmt.Errorf("position quantity %.8f must be positive: %w", pos.Quantity, ports.ErrInvalidRequest)
	}
	if pos.Side == domain.Buy {
		if pos.StopLoss >= pos.EntryPrice {
			return fmt.Errorf("long stop loss %.8f must be below entry %.8f: %w", pos.StopLoss, pos.EntryPrice, ports.ErrInvalidRequest)
		}
		if pos.TakeProfit > 0 && pos.TakeProfit < pos.EntryPrice {
			return fmt.Errorf("long take profit %.8f must not be below entry %.8f: %w", pos.TakeProfit, pos.EntryPrice, ports.ErrInvalidRequest)
		}
	} else {
		if pos.StopLoss > 0 && pos.StopLoss <= pos.EntryPrice {
			return fmt.Errorf("short stop loss %.8f must be above entry %.8f: %w", pos.StopLoss, pos.EntryPrice, ports.ErrInvalidRequest)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.positions[pos.Symbol]; exists {
		return fmt.Errorf("symbol %s: %w", pos.Symbol, ports.ErrDuplicatePosition)
	}

	stored := *pos
	if stored.CurrentPrice == 0 {
		stored.CurrentPrice = stored.EntryPrice
	}
	if stored.HighestPrice == 0 {
		stored.HighestPrice = stored.EntryPrice
	}
	l.positions[pos.Symbol] = &stored
	return nil
}

// Get returns a copy of the open position for the symbol, or nil if none.
func (l *Ledger) Get(symbol string) *domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// All returns copies of every open position.
func (l *Ledger) All() []*domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*domain.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		cp := *pos
		out = append(out, &cp)
	}
	return out
}

// Count returns the number of open positions.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// UpdatePrice records a new observed price for the symbol's position and
// advances the favorable excursion monotonically (highest price for longs,
// lowest for shorts). Returns a copy of the updated position.
func (l *Ledger) UpdatePrice(symbol string, price float64) (*domain.Position, error) {
	if price <= 0 {
		return nil, fmt.Errorf("price %.8f must be positive: %w", price, ports.ErrInvalidRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s: %w", symbol, ports.ErrPositionNotFound)
	}

	pos.CurrentPrice = price
	if pos.Side == domain.Buy {
		if price > pos.HighestPrice {
			pos.HighestPrice = price
		}
	} else {
		if price < pos.HighestPrice {
			pos.HighestPrice = price
		}
	}

	cp := *pos
	return &cp, nil
}

// RaiseTrailingStop tightens the trailing stop for the symbol's position,
// never loosening it: for longs the stored level only ever rises, for shorts
// it only ever falls. Returns the effective level after clamping.
func (l *Ledger) RaiseTrailingStop(symbol string, level float64) (float64, error) {
	if level <= 0 {
		return 0, fmt.Errorf("trailing stop %.8f must be positive: %w", level, ports.ErrInvalidRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return 0, fmt.Errorf("symbol %s: %w", symbol, ports.ErrPositionNotFound)
	}

	if pos.TrailingStop == 0 {
		pos.TrailingStop = level
	} else if pos.Side == domain.Buy {
		if level > pos.TrailingStop {
			pos.TrailingStop = level
		}
	} else {
		if level < pos.TrailingStop {
			pos.TrailingStop = level
		}
	}
	return pos.TrailingStop, nil
}

// Remove deletes the symbol's position from the ledger and returns it.
// Fails with ErrPositionNotFound when no position is open for the symbol.
func (l *Ledger) Remove(symbol string) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s: %w", symbol, ports.ErrPositionNotFound)
	}
	delete(l.positions, symbol)
	return pos, nil
}

// TotalRisk sums the capital at risk across all open positions.
func (l *Ledger) TotalRisk() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total float64
	for _, pos := range l.positions {
		total += pos.RiskAmount()
	}
	return total
}

// TotalUnrealizedPNL sums mark-to-market profit and loss across all open
// positions.
func (l *Ledger) TotalUnrealizedPNL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total float64
	for _, pos := range l.positions {
		total += pos.UnrealizedPNL()
	}
	return total
}
