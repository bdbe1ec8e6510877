package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradepilot/internal/domain"
	"tradepilot/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements ports.ExchangeClient against the Binance futures API.
// Every request passes through a shared rate limiter and circuit breaker
// and is retried with exponential backoff when the failure is transient.
type Client struct {
	api     *futures.Client
	logger  ports.Logger
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	maxAttempts int
	retryMin    time.Duration
	retryMax    time.Duration

	// resync is invoked on a clock-skew rejection before retrying.
	resync func(ctx context.Context) error

	mu      sync.RWMutex
	filters map[string]symbolFilters
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger

	MaxAttempts   int           // Attempts per request before giving up (default 5)
	RetryMinDelay time.Duration // Initial backoff delay (default 1s)
	RetryMaxDelay time.Duration // Backoff ceiling (default 30s)

	RequestsPerSecond float64 // Rate limit across all requests (default 10)
	Burst             int     // Rate limiter burst (default 20)
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	api := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		api.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": api.BaseURL})
	} else {
		api.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": api.BaseURL})
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	retryMin := cfg.RetryMinDelay
	if retryMin <= 0 {
		retryMin = time.Second
	}
	retryMax := cfg.RetryMaxDelay
	if retryMax <= 0 {
		retryMax = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 20
	}

	c := &Client{
		api:         api,
		logger:      cfg.Logger,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		maxAttempts: maxAttempts,
		retryMin:    retryMin,
		retryMax:    retryMax,
		filters:     make(map[string]symbolFilters),
	}
	c.resync = func(ctx context.Context) error {
		_, err := c.api.NewSetServerTimeService().Do(ctx)
		return err
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "binance-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Business rejections mean the API is healthy; only
			// availability failures should trip the breaker.
			return err == nil || classify(err).healthy
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			cfg.Logger.Warn(context.Background(), "Circuit breaker state changed", map[string]interface{}{
				"breaker": name, "from": from.String(), "to": to.String(),
			})
		},
	})
	return c, nil
}

// apiClass is the outcome of classifying an exchange error.
type apiClass struct {
	mapped    error // sentinel from ports
	retryable bool
	clockSkew bool
	healthy   bool // the API answered with a business-level rejection
	code      int64
}

func classify(err error) apiClass {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015:
			return apiClass{mapped: ports.ErrRateLimited, retryable: true, code: apiErr.Code}
		case -1021:
			return apiClass{mapped: ports.ErrClockSkew, retryable: true, clockSkew: true, code: apiErr.Code}
		case -1022, -2014, -2015:
			return apiClass{mapped: ports.ErrAuthenticationFailed, code: apiErr.Code}
		case -1013, -2010:
			return apiClass{mapped: ports.ErrOrderRejected, healthy: true, code: apiErr.Code}
		case -2022, -4116:
			return apiClass{mapped: ports.ErrOrderPlacementFailed, healthy: true, code: apiErr.Code}
		case -2019, -3005:
			return apiClass{mapped: ports.ErrInsufficientFunds, healthy: true, code: apiErr.Code}
		case -4044:
			return apiClass{mapped: ports.ErrPositionNotFound, healthy: true, code: apiErr.Code}
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1112, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130, -4003, -4014, -4015:
			return apiClass{mapped: ports.ErrInvalidRequest, healthy: true, code: apiErr.Code}
		case -1000, -1001, -1006, -1007, -1008:
			return apiClass{mapped: ports.ErrExchangeUnavailable, retryable: true, code: apiErr.Code}
		default:
			return apiClass{mapped: ports.ErrUnknown, retryable: true, code: apiErr.Code}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apiClass{mapped: ports.ErrTimeout, retryable: true}
	}
	if errors.Is(err, context.Canceled) {
		return apiClass{mapped: ports.ErrContextCanceled}
	}
	msg := err.Error()
	if strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "EOF") {
		return apiClass{mapped: ports.ErrConnectionFailed, retryable: true}
	}
	return apiClass{mapped: ports.ErrUnknown, retryable: true}
}

// call runs fn through the rate limiter, breaker and retry policy. A
// clock-skew rejection triggers one time resync without consuming an
// attempt; other retryable failures back off exponentially.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	bo := &backoff.Backoff{Min: c.retryMin, Max: c.retryMax, Factor: 2, Jitter: true}
	resynced := false
	attempt := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s failed: %w: %w", op, ports.ErrContextCanceled, err)
		}

		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn(ctx, op+" rejected by circuit breaker", map[string]interface{}{"operation": op})
			return fmt.Errorf("%s failed: %w: %w", op, ports.ErrExchangeUnavailable, err)
		}

		class := classify(err)
		if class.clockSkew && !resynced {
			resynced = true
			c.logger.Warn(ctx, op+": Clock skew detected, resyncing server time", map[string]interface{}{"operation": op})
			if syncErr := c.resync(ctx); syncErr != nil {
				c.logger.Error(ctx, syncErr, op+": Server time resync failed", map[string]interface{}{"operation": op})
			}
			continue
		}
		if !class.retryable {
			return c.fail(ctx, op, err, class)
		}

		attempt++
		if attempt >= c.maxAttempts {
			c.logger.Error(ctx, err, op+": Retry attempts exhausted", map[string]interface{}{"operation": op, "attempts": attempt})
			return c.fail(ctx, op, err, class)
		}
		delay := bo.Duration()
		c.logger.Warn(ctx, op+": Transient failure, retrying", map[string]interface{}{
			"operation": op, "attempt": attempt, "delay": delay.String(), "error": err.Error(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s failed: %w: %w", op, ports.ErrContextCanceled, ctx.Err())
		}
	}
}

// fail logs and wraps a terminal error with its mapped sentinel.
func (c *Client) fail(ctx context.Context, op string, err error, class apiClass) error {
	fields := map[string]interface{}{"operation": op, "originalError": err.Error()}
	if class.code != 0 {
		fields["apiErrorCode"] = class.code
	}
	c.logger.Error(ctx, err, op+" failed", fields)
	return fmt.Errorf("%s failed: %w: %w", op, class.mapped, err)
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.call(ctx, op, func(ctx context.Context) error {
		return c.api.NewPingService().Do(ctx)
	})
	if err != nil {
		return err
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// SyncServerTime resynchronizes the signed-request clock offset against
// the exchange's server time.
func (c *Client) SyncServerTime(ctx context.Context) error {
	op := "SyncServerTime"
	var offset int64
	err := c.call(ctx, op, func(ctx context.Context) error {
		var innerErr error
		offset, innerErr = c.api.NewSetServerTimeService().Do(ctx)
		return innerErr
	})
	if err != nil {
		return err
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"offsetMs": offset})
	return nil
}

// LatestPrice retrieves the last traded price for a symbol.
func (c *Client) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	op := "LatestPrice"
	var prices []*futures.SymbolPrice
	err := c.call(ctx, op, func(ctx context.Context) error {
		var innerErr error
		prices, innerErr = c.api.NewListPricesService().Symbol(symbol).Do(ctx)
		return innerErr
	})
	if err != nil {
		return 0, err
	}
	if len(prices) == 0 {
		return 0, c.fail(ctx, op, fmt.Errorf("no price data returned for symbol %s", symbol), apiClass{mapped: ports.ErrNotFound})
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, c.fail(ctx, op, fmt.Errorf("could not parse price '%s': %w", prices[0].Price, err), apiClass{mapped: ports.ErrUnknown})
	}
	return price, nil
}

// LatestCandles retrieves the most recent klines for a symbol, oldest first.
func (c *Client) LatestCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	op := "LatestCandles"
	var raw []*futures.Kline
	err := c.call(ctx, op, func(ctx context.Context) error {
		var innerErr error
		raw, innerErr = c.api.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		return innerErr
	})
	if err != nil {
		return nil, err
	}

	klines := make([]*domain.Kline, 0, len(raw))
	for _, bk := range raw {
		dk, err := translateKline(bk, symbol, interval)
		if err != nil {
			return nil, c.fail(ctx, op, fmt.Errorf("failed to translate kline: %w", err), apiClass{mapped: ports.ErrUnknown})
		}
		klines = append(klines, dk)
	}
	return klines, nil
}

// AccountBalance retrieves the available balance for an asset (e.g., "USDT").
func (c *Client) AccountBalance(ctx context.Context, asset string) (float64, error) {
	op := "AccountBalance"
	var balances []*futures.Balance
	err := c.call(ctx, op, func(ctx context.Context) error {
		var innerErr error
		balances, innerErr = c.api.NewGetBalanceService().Do(ctx)
		return innerErr
	})
	if err != nil {
		return 0, err
	}

	for _, bal := range balances {
		if bal.Asset != asset {
			continue
		}
		available, err := strconv.ParseFloat(bal.AvailableBalance, 64)
		if err != nil {
			return 0, c.fail(ctx, op, fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.AvailableBalance, asset, err), apiClass{mapped: ports.ErrUnknown})
		}
		return available, nil
	}
	return 0, c.fail(ctx, op, fmt.Errorf("asset %s not found in account balance", asset), apiClass{mapped: ports.ErrNotFound})
}

// PlaceMarketOrder places a market order for the given base-asset quantity.
// The quantity is truncated to the symbol's lot step and checked against the
// minimum notional before submission, and the same client order ID is reused
// across retries so a retried submission cannot fill twice.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder"

	filters, err := c.filtersFor(ctx, symbol)
	if err != nil {
		return nil, err
	}
	qty, err := filters.quantize(quantity)
	if err != nil {
		return nil, c.fail(ctx, op, fmt.Errorf("quantity %v for %s: %w", quantity, symbol, err), apiClass{mapped: ports.ErrInvalidRequest})
	}
	if filters.minNotional.IsPositive() {
		price, err := c.LatestPrice(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if err := filters.checkNotional(qty, price); err != nil {
			return nil, c.fail(ctx, op, fmt.Errorf("order for %s: %w", symbol, err), apiClass{mapped: ports.ErrOrderRejected})
		}
	}

	clientOrderID := uuid.NewString()
	var order *futures.CreateOrderResponse
	err = c.call(ctx, op, func(ctx context.Context) error {
		var innerErr error
		order, innerErr = c.api.NewCreateOrderService().
			Symbol(symbol).
			Side(futures.SideType(side)).
			Type(futures.OrderTypeMarket).
			Quantity(qty.String()).
			NewClientOrderID(clientOrderID).
			Do(ctx)
		return innerErr
	})
	if err != nil {
		return nil, err
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "side": side, "quantity": qty.String(),
		"orderID": resp.OrderID, "avgPrice": resp.AvgPrice, "status": resp.Status,
	})
	return resp, nil
}

// --- Symbol filters ---

type symbolFilters struct {
	stepSize    decimal.Decimal
	minQty      decimal.Decimal
	minNotional decimal.Decimal
}

// quantize truncates a quantity down to the symbol's lot step. Quantities
// that truncate to zero or fall below the minimum lot are rejected.
func (f symbolFilters) quantize(quantity float64) (decimal.Decimal, error) {
	q := decimal.NewFromFloat(quantity)
	if q.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.New("quantity must be positive")
	}
	if f.stepSize.IsPositive() {
		q = q.Div(f.stepSize).Floor().Mul(f.stepSize)
	}
	if q.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.New("quantity truncates to zero at lot step")
	}
	if f.minQty.IsPositive() && q.LessThan(f.minQty) {
		return decimal.Zero, fmt.Errorf("quantity %s below minimum lot %s", q.String(), f.minQty.String())
	}
	return q, nil
}

// checkNotional rejects an order whose value at the reference price falls
// below the exchange's minimum notional.
func (f symbolFilters) checkNotional(quantity decimal.Decimal, price float64) error {
	if !f.minNotional.IsPositive() || price <= 0 {
		return nil
	}
	notional := quantity.Mul(decimal.NewFromFloat(price))
	if notional.LessThan(f.minNotional) {
		return fmt.Errorf("notional %s below exchange minimum %s", notional.String(), f.minNotional.String())
	}
	return nil
}

// filtersFor returns the cached lot filters for a symbol, fetching the
// exchange info once and caching every symbol it describes.
func (c *Client) filtersFor(ctx context.Context, symbol string) (symbolFilters, error) {
	c.mu.RLock()
	f, ok := c.filters[symbol]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	op := "ExchangeInfo"
	var info *futures.ExchangeInfo
	err := c.call(ctx, op, func(ctx context.Context) error {
		var innerErr error
		info, innerErr = c.api.NewExchangeInfoService().Do(ctx)
		return innerErr
	})
	if err != nil {
		return symbolFilters{}, err
	}

	c.mu.Lock()
	for i := range info.Symbols {
		s := &info.Symbols[i]
		sf := symbolFilters{}
		if lot := s.LotSizeFilter(); lot != nil {
			sf.stepSize, _ = decimal.NewFromString(lot.StepSize)
			sf.minQty, _ = decimal.NewFromString(lot.MinQuantity)
		}
		if notional := s.MinNotionalFilter(); notional != nil {
			sf.minNotional, _ = decimal.NewFromString(notional.Notional)
		}
		c.filters[s.Symbol] = sf
	}
	f, ok = c.filters[symbol]
	c.mu.Unlock()

	if !ok {
		return symbolFilters{}, c.fail(ctx, op, fmt.Errorf("symbol %s not found in exchange info", symbol), apiClass{mapped: ports.ErrNotFound})
	}
	c.logger.Debug(ctx, "Symbol filters cached", map[string]interface{}{
		"symbol": symbol, "stepSize": f.stepSize.String(), "minQty": f.minQty.String(), "minNotional": f.minNotional.String(),
	})
	return f, nil
}

// --- Translation helpers ---

func translateOrderResponse(order *futures.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          domain.OrderSide(order.Side),
		AvgPrice:      avgPrice,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}
}

func translateKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}
