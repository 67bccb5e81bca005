package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Stable error codes used by the retry policy's retryable set.
const (
	CodeNetworkError      = "NETWORK_ERROR"
	CodeTimeout           = "TIMEOUT"
	CodeRateLimited       = "RATE_LIMITED"
	CodeResourceExhausted = "RESOURCE_EXHAUSTED"
	CodeToolUnavailable   = "TOOL_UNAVAILABLE"
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeCancelled         = "CANCELLED"
	CodeCircuitOpen       = "CIRCUIT_OPEN"
	CodeUnknown           = "UNKNOWN_ERROR"
)

// Error is a normalized operation failure. The retry executor propagates
// the last attempt's Error unchanged in shape so callers can branch on
// Code and Retryable.
type Error struct {
	Code      string
	Message   string
	Retryable bool

	// cause preserves the original error for errors.Unwrap chains.
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("resilience: %s: %s", e.Code, e.Message)
}

// Unwrap returns the original error, if one was normalized.
func (e *Error) Unwrap() error { return e.cause }

// ErrorCode returns the stable error code.
func (e *Error) ErrorCode() string { return e.Code }

// IsRetryable reports whether the failure is worth retrying.
func (e *Error) IsRetryable() bool { return e.Retryable }

// coded is the shape other packages (the execution engine included) expose
// for typed failures; Normalize adopts it without knowing the type.
type coded interface {
	ErrorCode() string
	IsRetryable() bool
}

// Normalize maps an arbitrary operation error onto the stable
// {code, message, retryable} shape.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var c coded
	if errors.As(err, &c) {
		return &Error{
			Code:      c.ErrorCode(),
			Message:   err.Error(),
			Retryable: c.IsRetryable(),
			cause:     err,
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeTimeout, Message: err.Error(), Retryable: true, cause: err}
	case errors.Is(err, context.Canceled):
		return &Error{Code: CodeCancelled, Message: err.Error(), Retryable: false, cause: err}
	}

	return &Error{Code: CodeUnknown, Message: err.Error(), Retryable: false, cause: err}
}

// CircuitOpenError is returned when a call is rejected by an open circuit
// breaker, before the wrapped operation is invoked. It is distinguishable
// from operation-originated failures: it carries the time at which the
// breaker will next allow a probe.
type CircuitOpenError struct {
	ResourceKey string
	NextAttempt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("resilience: circuit open for %q until %s", e.ResourceKey, e.NextAttempt.Format(time.RFC3339))
}

// ErrorCode returns the stable error code.
func (e *CircuitOpenError) ErrorCode() string { return CodeCircuitOpen }

// IsRetryable is false: the breaker must cool down first.
func (e *CircuitOpenError) IsRetryable() bool { return false }

// Is lets callers match with errors.Is(err, ErrCircuitOpen).
func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// Sentinel errors.
var (
	// ErrCircuitOpen matches any CircuitOpenError via errors.Is.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrNilOperation is returned when ExecuteWithRetry is given a nil operation.
	ErrNilOperation = errors.New("resilience: operation is nil")

	// ErrMissingResourceKey is returned when a request has no resource key.
	ErrMissingResourceKey = errors.New("resilience: resource key is required")
)
