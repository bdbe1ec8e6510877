package ports

import (
	"context"
	"time"

	"tradepilot/internal/domain"
)

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       int64     // Exchange's order ID
	ClientOrderID string    // Client-generated order ID
	Symbol        string    // Symbol for the order
	Side          domain.OrderSide
	AvgPrice      float64   // Average filled price (0 when no fills reported)
	ExecutedQty   float64   // Quantity filled
	Status        string    // Order status (e.g., NEW, FILLED)
	Timestamp     time.Time // Time the order response was generated
}

// FillPrice returns the average fill price, or the given fallback when the
// exchange reported no fills.
func (o *OrderResponse) FillPrice(fallback float64) float64 {
	if o != nil && o.AvgPrice > 0 {
		return o.AvgPrice
	}
	return fallback
}

// MarketDataProvider supplies the market state the orchestrator polls.
type MarketDataProvider interface {
	// LatestPrice retrieves the last traded price for a symbol.
	LatestPrice(ctx context.Context, symbol string) (float64, error)

	// LatestCandles retrieves the most recent candles for a symbol and
	// interval, oldest first.
	LatestCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)
}

// ExchangeClient defines the interface for interacting with a cryptocurrency
// exchange. All implementations must be safe for concurrent use by the
// per-instrument loops.
type ExchangeClient interface {
	MarketDataProvider

	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error

	// SyncServerTime resynchronizes the client's clock offset against the
	// exchange's server time.
	SyncServerTime(ctx context.Context) error

	// AccountBalance retrieves the free balance for an asset (e.g., "USDT").
	AccountBalance(ctx context.Context, asset string) (float64, error)

	// PlaceMarketOrder places a market order for the given quantity of the
	// base asset. The implementation applies the symbol's precision rules
	// before submission.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*OrderResponse, error)
}
