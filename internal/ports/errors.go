package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these so that retry
// and admission policy can branch on errors.Is instead of string or code
// inspection.
var (
	// General errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Exchange errors, grouped by how the gateway treats them.
	// Transient: retried with backoff inside the gateway.
	ErrExchangeUnavailable = errors.New("exchange API is unavailable")
	ErrConnectionFailed    = errors.New("failed to connect to the exchange")
	ErrRateLimited         = errors.New("API rate limit exceeded")
	ErrClockSkew           = errors.New("request timestamp outside the exchange recv window")
	// Rejected-by-policy: surfaced immediately, never retried.
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderRejected        = errors.New("order rejected by exchange validation")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrOrderPlacementFailed = errors.New("failed to place order")

	// Ledger invariant violations: programming errors, fail loudly.
	ErrDuplicatePosition = errors.New("position already open for instrument")
	ErrPositionNotFound  = errors.New("no open position for instrument")

	// Database errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrQueryFailed    = errors.New("database query failed")

	// Process lock
	ErrAlreadyRunning = errors.New("another instance holds the process lock")
)
