package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidPair           = errors.New("invalid pair")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")
)

// Price and FX layer errors
var (
	ErrStalePrice    = errors.New("stale price")
	ErrNoPrice       = errors.New("no price available")
	ErrFXUnavailable = errors.New("fx rate unavailable")
	ErrFXOutOfRange  = errors.New("fx rate outside sanity band")
)
