package resilience

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means calls flow through normally.
	StateClosed State = iota
	// StateOpen means calls are rejected without invoking the operation.
	StateOpen
	// StateHalfOpen means the breaker is probing for recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of failures before opening the circuit.
	// Default: 5
	FailureThreshold int

	// ResetTimeout is how long an open circuit waits before allowing a probe.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to State)
}

// CircuitBreaker gates calls to one resource.
//
// The open→half-open transition is strictly lazy: it is evaluated on the
// next Allow or Status call past the reset timeout, never by a background
// timer. Observers therefore keep seeing open until someone looks.
type CircuitBreaker struct {
	config BreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	nextAttempt time.Time
}

// BreakerStatus is a point-in-time snapshot of a breaker.
type BreakerStatus struct {
	State        State
	FailureCount int
	SuccessCount int

	// LastFailureTime is nil until the first failure is recorded.
	LastFailureTime *time.Time

	// NextAttemptTime is set while the breaker is open.
	NextAttemptTime *time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Allow reports whether a call may proceed. When the circuit is open it
// returns a *CircuitOpenError carrying the next attempt time, so the
// caller short-circuits before touching the underlying resource.
func (cb *CircuitBreaker) Allow(resourceKey string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.currentStateLocked() == StateOpen {
		return &CircuitOpenError{ResourceKey: resourceKey, NextAttempt: cb.nextAttempt}
	}
	return nil
}

// RecordSuccess records the final outcome of a successful call sequence.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.currentStateLocked()

	switch oldState {
	case StateClosed:
		cb.successes++
	case StateHalfOpen:
		// Successful probe closes the circuit and forgives past failures.
		cb.successes++
		cb.failures = 0
		cb.state = StateClosed
	}

	cb.notifyLocked(oldState)
}

// RecordFailure records the final outcome of a failed call sequence.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.currentStateLocked()
	now := time.Now()
	cb.lastFailure = now

	switch oldState {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.nextAttempt = now.Add(cb.config.ResetTimeout)
		}
	case StateHalfOpen:
		// Failed probe reopens with a fresh cool-down.
		cb.failures++
		cb.state = StateOpen
		cb.nextAttempt = now.Add(cb.config.ResetTimeout)
	}

	cb.notifyLocked(oldState)
}

// State returns the current circuit state, applying the lazy open→half-open
// transition if the reset timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// Status returns a snapshot of the breaker.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	status := BreakerStatus{
		State:        cb.currentStateLocked(),
		FailureCount: cb.failures,
		SuccessCount: cb.successes,
	}
	if !cb.lastFailure.IsZero() {
		t := cb.lastFailure
		status.LastFailureTime = &t
	}
	if status.State == StateOpen {
		t := cb.nextAttempt
		status.NextAttemptTime = &t
	}
	return status
}

// Reset returns the breaker to closed with cleared counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0

	if oldState != StateClosed && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, StateClosed)
	}
}

// currentStateLocked applies the lazy open→half-open transition.
func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && !time.Now().Before(cb.nextAttempt) {
		cb.state = StateHalfOpen
		if cb.config.OnStateChange != nil {
			cb.config.OnStateChange(StateOpen, StateHalfOpen)
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) notifyLocked(oldState State) {
	if oldState != cb.state && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, cb.state)
	}
}
