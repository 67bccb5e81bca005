package engine

import "fmt"

// Error codes surfaced by the execution engine. The resilience layer
// normalizes on the same code vocabulary.
const (
	CodeNotFound           = "EXECUTION_NOT_FOUND"
	CodeInvalidState       = "INVALID_EXECUTION_STATE"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeExecutionCancelled = "EXECUTION_CANCELLED"
	CodeExecutionFailed    = "EXECUTION_FAILED"
	CodeExecutionTimeout   = "EXECUTION_TIMEOUT"
	CodeToolUnavailable    = "TOOL_UNAVAILABLE"
)

// Error is a typed execution error carrying a stable code and a
// retryability hint. Terminal failures are attached to the record as *Error
// and survive into history snapshots unchanged.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine: %s: %s", e.Code, e.Message)
}

// ErrorCode returns the stable error code.
func (e *Error) ErrorCode() string { return e.Code }

// IsRetryable reports whether a caller may reasonably retry the operation.
func (e *Error) IsRetryable() bool { return e.Retryable }

// Is matches errors by code so callers can branch with errors.Is against
// the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinel errors for the engine's operation surface.
var (
	// ErrNotFound is returned for an unknown execution id.
	ErrNotFound = &Error{Code: CodeNotFound, Message: "execution not found", Retryable: false}

	// ErrInvalidState is returned when an operation is not legal in the
	// record's current state, e.g. cancel on a terminal execution.
	ErrInvalidState = &Error{Code: CodeInvalidState, Message: "operation not valid in current state", Retryable: false}

	// ErrNotCompleted is returned by Results before the execution completed.
	ErrNotCompleted = &Error{Code: CodeInvalidState, Message: "results not available before completion", Retryable: false}

	// ErrTimeout is returned by WaitUntilTerminal when the poll budget is
	// exhausted before the execution reaches a terminal state.
	ErrTimeout = &Error{Code: CodeExecutionTimeout, Message: "execution did not reach a terminal state in time", Retryable: true}
)

// newError builds a fresh *Error; used for per-record failure instances so
// the sentinels above stay immutable.
func newError(code, message string, retryable bool) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable}
}
