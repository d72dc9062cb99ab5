package ports

import (
	"errors"
	"fmt"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrInvalidLotSize       = errors.New("order quantity violates lot size increment")
	ErrCircuitOpen          = errors.New("circuit breaker is open for symbol")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
)

// ValidationError reports malformed trade or rule data. The affected symbol is
// skipped for the current cycle; the cycle itself continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// CalculationError reports a broken internal invariant during matching or risk
// math. It always carries the offending inputs so the failure is reproducible.
type CalculationError struct {
	Op     string
	Inputs map[string]interface{}
	Reason string
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("calculation error in %s: %s (inputs: %v)", e.Op, e.Reason, e.Inputs)
}

// ExecutionError reports an order execution failure. Retryable failures
// (rejections, timeouts) drive backoff and eventually open the symbol's
// circuit breaker; terminal failures (e.g. insufficient balance) abort the
// symbol immediately and re-queue it for the next cycle.
type ExecutionError struct {
	Symbol    string
	Op        string
	Retryable bool
	Err       error
}

func (e *ExecutionError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s execution error in %s for %s: %v", kind, e.Op, e.Symbol, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NewRetryable wraps err as a retryable execution error.
func NewRetryable(symbol, op string, err error) *ExecutionError {
	return &ExecutionError{Symbol: symbol, Op: op, Retryable: true, Err: err}
}

// NewTerminal wraps err as a terminal execution error.
func NewTerminal(symbol, op string, err error) *ExecutionError {
	return &ExecutionError{Symbol: symbol, Op: op, Retryable: false, Err: err}
}

// IsRetryable reports whether err is an execution failure worth retrying.
// Unclassified errors are treated as retryable so that transient exchange
// failures degrade to backoff rather than dropped exits.
func IsRetryable(err error) bool {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Retryable
	}
	if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrAuthenticationFailed) {
		return false
	}
	return true
}

// IsTerminal reports whether err is a hard execution failure.
func IsTerminal(err error) bool {
	return err != nil && !IsRetryable(err)
}
