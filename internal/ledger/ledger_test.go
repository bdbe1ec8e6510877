package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepilot/internal/domain"
	"tradepilot/internal/ports"
)

func newTestPosition(symbol string) *domain.Position {
	return &domain.Position{
		Symbol:     symbol,
		Side:       domain.Buy,
		EntryPrice: 100.0,
		Quantity:   1.0,
		StopLoss:   95.0,
		TakeProfit: 101.3,
		EntryTime:  time.Now().UTC(),
		Strategy:   "momentum",
	}
}

func TestAdd(t *testing.T) {
	tests := []struct {
		name        string
		pos         *domain.Position
		expectedErr error
	}{
		{
			name: "valid long position",
			pos:  newTestPosition("ETHUSDT"),
		},
		{
			name:        "nil position",
			pos:         nil,
			expectedErr: ports.ErrInvalidRequest,
		},
		{
			name: "empty symbol",
			pos: func() *domain.Position {
				p := newTestPosition("")
				return p
			}(),
			expectedErr: ports.ErrInvalidRequest,
		},
		{
			name: "zero quantity",
			pos: func() *domain.Position {
				p := newTestPosition("ETHUSDT")
				p.Quantity = 0
				return p
			}(),
			expectedErr: ports.ErrInvalidRequest,
		},
		{
			name: "long stop above entry",
			pos: func() *domain.Position {
				p := newTestPosition("ETHUSDT")
				p.StopLoss = 105.0
				return p
			}(),
			expectedErr: ports.ErrInvalidRequest,
		},
		{
			name: "long take profit below entry",
			pos: func() *domain.Position {
				p := newTestPosition("ETHUSDT")
				p.TakeProfit = 99.0
				return p
			}(),
			expectedErr: ports.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New()
			err := l.Add(tt.pos)
			if tt.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Equal(t, 0, l.Count())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, l.Count())
		})
	}
}

func TestAddDuplicateFails(t *testing.T) {
	l := New()
	require.NoError(t, l.Add(newTestPosition("ETHUSDT")))

	err := l.Add(newTestPosition("ETHUSDT"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrDuplicatePosition)
	assert.Equal(t, 1, l.Count())

	// A different symbol is unaffected.
	require.NoError(t, l.Add(newTestPosition("BTCUSDT")))
	assert.Equal(t, 2, l.Count())
}

func TestAddInitialisesExcursionFields(t *testing.T) {
	l := New()
	pos := newTestPosition("ETHUSDT")
	pos.CurrentPrice = 0
	pos.HighestPrice = 0
	require.NoError(t, l.Add(pos))

	got := l.Get("ETHUSDT")
	require.NotNil(t, got)
	assert.Equal(t, pos.EntryPrice, got.CurrentPrice)
	assert.Equal(t, pos.EntryPrice, got.HighestPrice)
}

func TestGetReturnsCopy(t *testing.T) {
	l := New()
	require.NoError(t, l.Add(newTestPosition("ETHUSDT")))

	first := l.Get("ETHUSDT")
	require.NotNil(t, first)
	first.StopLoss = 1.0
	first.Quantity = 999

	second := l.Get("ETHUSDT")
	require.NotNil(t, second)
	assert.Equal(t, 95.0, second.StopLoss)
	assert.Equal(t, 1.0, second.Quantity)
}

func TestGetUnknownSymbol(t *testing.T) {
	l := New()
	assert.Nil(t, l.Get("ETHUSDT"))
}

func TestUpdatePrice(t *testing.T) {
	l := New()
	require.NoError(t, l.Add(newTestPosition("ETHUSDT")))

	pos, err := l.UpdatePrice("ETHUSDT", 104.0)
	require.NoError(t, err)
	assert.Equal(t, 104.0, pos.CurrentPrice)
	assert.Equal(t, 104.0, pos.HighestPrice)

	// Pullback moves the current price but never the highest.
	pos, err = l.UpdatePrice("ETHUSDT", 101.0)
	require.NoError(t, err)
	assert.Equal(t, 101.0, pos.CurrentPrice)
	assert.Equal(t, 104.0, pos.HighestPrice)

	_, err = l.UpdatePrice("BTCUSDT", 50000.0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)

	_, err = l.UpdatePrice("ETHUSDT", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestUpdatePriceShortTracksLowest(t *testing.T) {
	l := New()
	pos := &domain.Position{
		Symbol:     "ETHUSDT",
		Side:       domain.Sell,
		EntryPrice: 100.0,
		Quantity:   1.0,
		StopLoss:   105.0,
		EntryTime:  time.Now().UTC(),
	}
	require.NoError(t, l.Add(pos))

	got, err := l.UpdatePrice("ETHUSDT", 96.0)
	require.NoError(t, err)
	assert.Equal(t, 96.0, got.HighestPrice)

	// A bounce must not move the favorable excursion back up.
	got, err = l.UpdatePrice("ETHUSDT", 99.0)
	require.NoError(t, err)
	assert.Equal(t, 99.0, got.CurrentPrice)
	assert.Equal(t, 96.0, got.HighestPrice)
}

func TestRaiseTrailingStop(t *testing.T) {
	l := New()
	require.NoError(t, l.Add(newTestPosition("ETHUSDT")))

	level, err := l.RaiseTrailingStop("ETHUSDT", 100.9)
	require.NoError(t, err)
	assert.Equal(t, 100.9, level)

	level, err = l.RaiseTrailingStop("ETHUSDT", 102.5)
	require.NoError(t, err)
	assert.Equal(t, 102.5, level)

	// Attempting to loosen keeps the tighter level.
	level, err = l.RaiseTrailingStop("ETHUSDT", 99.0)
	require.NoError(t, err)
	assert.Equal(t, 102.5, level)

	got := l.Get("ETHUSDT")
	require.NotNil(t, got)
	assert.Equal(t, 102.5, got.TrailingStop)

	_, err = l.RaiseTrailingStop("BTCUSDT", 100.0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)
}

func TestRemove(t *testing.T) {
	l := New()
	require.NoError(t, l.Add(newTestPosition("ETHUSDT")))

	pos, err := l.Remove("ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, "ETHUSDT", pos.Symbol)
	assert.Equal(t, 0, l.Count())

	_, err = l.Remove("ETHUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)
}

func TestTotalRisk(t *testing.T) {
	l := New()
	require.NoError(t, l.Add(newTestPosition("ETHUSDT"))) // (100-95)*1 = 5
	btc := newTestPosition("BTCUSDT")
	btc.EntryPrice = 200.0
	btc.StopLoss = 190.0
	btc.TakeProfit = 0
	btc.Quantity = 2.0
	require.NoError(t, l.Add(btc)) // (200-190)*2 = 20

	assert.InDelta(t, 25.0, l.TotalRisk(), 1e-9)
}

func TestTotalUnrealizedPNL(t *testing.T) {
	l := New()
	require.NoError(t, l.Add(newTestPosition("ETHUSDT")))
	_, err := l.UpdatePrice("ETHUSDT", 103.0)
	require.NoError(t, err)

	assert.InDelta(t, 3.0, l.TotalUnrealizedPNL(), 1e-9)
}

func TestConcurrentAddOneWinner(t *testing.T) {
	l := New()
	const workers = 32

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- l.Add(newTestPosition("ETHUSDT"))
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ports.ErrDuplicatePosition)
			rejected++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, rejected)
	assert.Equal(t, 1, l.Count())
}
