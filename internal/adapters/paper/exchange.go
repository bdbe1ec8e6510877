// Package paper provides a simulated exchange for paper trading. Market
// data is sourced from a real provider while orders fill locally at the
// last traded price plus a fixed slippage.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradepilot/internal/domain"
	"tradepilot/internal/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Exchange implements ports.ExchangeClient with simulated order execution.
type Exchange struct {
	data   ports.MarketDataProvider
	logger ports.Logger

	slippageBps float64
	stepSize    decimal.Decimal
	minNotional float64
	balance     float64

	mu     sync.Mutex
	nextID int64
}

// Config holds configuration for the paper exchange.
type Config struct {
	Data   ports.MarketDataProvider // Real market data source
	Logger ports.Logger

	StartingBalance float64 // Simulated account balance (default 10000)
	SlippageBps     float64 // Fill slippage in basis points (default 5)
	StepSize        string  // Lot step applied to quantities (default "0.001")
	MinNotional     float64 // Minimum order value (default 10)
}

// New creates a paper exchange backed by the given market data provider.
func New(cfg Config) (*Exchange, error) {
	if cfg.Data == nil {
		return nil, fmt.Errorf("market data provider is required for paper exchange")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper exchange")
	}

	balance := cfg.StartingBalance
	if balance <= 0 {
		balance = 10000
	}
	slippage := cfg.SlippageBps
	if slippage < 0 {
		slippage = 0
	} else if slippage == 0 {
		slippage = 5
	}
	stepStr := cfg.StepSize
	if stepStr == "" {
		stepStr = "0.001"
	}
	step, err := decimal.NewFromString(stepStr)
	if err != nil {
		return nil, fmt.Errorf("invalid step size '%s': %w", stepStr, err)
	}
	minNotional := cfg.MinNotional
	if minNotional <= 0 {
		minNotional = 10
	}

	cfg.Logger.Info(context.Background(), "Paper exchange ready", map[string]interface{}{
		"startingBalance": balance, "slippageBps": slippage, "stepSize": step.String(), "minNotional": minNotional,
	})
	return &Exchange{
		data:        cfg.Data,
		logger:      cfg.Logger,
		slippageBps: slippage,
		stepSize:    step,
		minNotional: minNotional,
		balance:     balance,
	}, nil
}

// LatestPrice delegates to the real market data provider.
func (e *Exchange) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	return e.data.LatestPrice(ctx, symbol)
}

// LatestCandles delegates to the real market data provider.
func (e *Exchange) LatestCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	return e.data.LatestCandles(ctx, symbol, interval, limit)
}

// Ping checks the underlying data provider when it supports it.
func (e *Exchange) Ping(ctx context.Context) error {
	if pinger, ok := e.data.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// SyncServerTime is a no-op unless the data provider keeps a clock offset.
func (e *Exchange) SyncServerTime(ctx context.Context) error {
	if syncer, ok := e.data.(interface{ SyncServerTime(context.Context) error }); ok {
		return syncer.SyncServerTime(ctx)
	}
	return nil
}

// AccountBalance returns the simulated account balance. Realized PNL is
// tracked by the caller, not here.
func (e *Exchange) AccountBalance(ctx context.Context, asset string) (float64, error) {
	return e.balance, nil
}

// PlaceMarketOrder fills an order at the last traded price adjusted for
// slippage. Quantities are truncated to the lot step and orders below the
// minimum notional are rejected, mirroring live exchange filters.
func (e *Exchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder"

	price, err := e.data.LatestPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	qty := decimal.NewFromFloat(quantity)
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%s failed: quantity must be positive: %w", op, ports.ErrInvalidRequest)
	}
	if e.stepSize.IsPositive() {
		qty = qty.Div(e.stepSize).Floor().Mul(e.stepSize)
	}
	execQty, _ := qty.Float64()
	if execQty <= 0 {
		return nil, fmt.Errorf("%s failed: quantity truncates to zero at lot step: %w", op, ports.ErrInvalidRequest)
	}

	fill := price
	slip := price * e.slippageBps / 10000
	if side == domain.Buy {
		fill = price + slip
	} else {
		fill = price - slip
	}

	if execQty*fill < e.minNotional {
		return nil, fmt.Errorf("%s failed: order value %.2f below minimum notional %.2f: %w",
			op, execQty*fill, e.minNotional, ports.ErrOrderRejected)
	}

	e.mu.Lock()
	e.nextID++
	orderID := e.nextID
	e.mu.Unlock()

	resp := &ports.OrderResponse{
		OrderID:       orderID,
		ClientOrderID: uuid.NewString(),
		Symbol:        symbol,
		Side:          side,
		AvgPrice:      fill,
		ExecutedQty:   execQty,
		Status:        "FILLED",
		Timestamp:     time.Now(),
	}
	e.logger.Info(ctx, "Paper order filled", map[string]interface{}{
		"symbol": symbol, "side": side, "quantity": execQty, "fillPrice": fill, "orderID": orderID,
	})
	return resp, nil
}
