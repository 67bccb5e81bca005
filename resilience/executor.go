package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/toolexec/observe"
)

// Operation is the unit of work the executor protects.
type Operation func(ctx context.Context) (any, error)

// Request identifies one protected call. ResourceKey scopes the circuit
// breaker and retry history; ResourceKey plus OperationType scopes
// coalescing of concurrent identical calls.
type Request struct {
	ResourceKey   string
	OperationType string
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Policy is the base retry policy. Zero fields take defaults.
	Policy Policy

	// Breaker configures the per-key circuit breakers.
	Breaker BreakerConfig

	// Logger receives structured retry logs. Default: discard.
	Logger observe.Logger

	// Metrics receives retry and breaker instruments. Default: discard.
	Metrics observe.RetryMetrics
}

// Executor wraps operations with per-resource-key circuit breaking,
// policy-driven retry with exponential backoff, and attempt history.
//
// Contract:
//   - Concurrency: safe for concurrent use. Calls sharing a Request are
//     coalesced: one in-flight sequence serves every overlapping caller.
//   - Ownership: the executor is the sole mutator of breaker and history
//     state; accessors return snapshot copies.
type Executor struct {
	policy  Policy
	breaker BreakerConfig
	logger  observe.Logger
	metrics observe.RetryMetrics

	mu        sync.Mutex
	breakers  map[string]*CircuitBreaker
	histories map[string]*History

	flight singleflight.Group
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = observe.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.NopRetryMetrics()
	}

	return &Executor{
		policy:    cfg.Policy.withDefaults(),
		breaker:   cfg.Breaker,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		breakers:  make(map[string]*CircuitBreaker),
		histories: make(map[string]*History),
	}
}

// ExecuteWithRetry runs the operation under the resource key's circuit
// breaker and the retry policy. An open breaker fails fast with a
// *CircuitOpenError before the operation is invoked. On failure the error
// is normalized; retryable codes are retried with exponential backoff
// (optionally jittered) until the budget is exhausted, then the last
// normalized error is propagated unchanged.
//
// Concurrent calls sharing {ResourceKey, OperationType} while one sequence
// is in flight are coalesced onto it: the operation runs once for the
// overlapping window and every caller receives the same outcome. The
// in-flight sequence observes the context of the caller that started it.
//
// The final outcome, and only the final outcome, is recorded against the
// breaker; every individual attempt lands in the key's history.
func (e *Executor) ExecuteWithRetry(ctx context.Context, op Operation, req Request, override *Policy) (any, error) {
	if op == nil {
		return nil, ErrNilOperation
	}
	if req.ResourceKey == "" {
		return nil, ErrMissingResourceKey
	}

	policy := e.policy
	if override != nil {
		policy = override.withDefaults()
	}

	flightKey := req.ResourceKey + "\x00" + req.OperationType
	result, err, _ := e.flight.Do(flightKey, func() (any, error) {
		return e.run(ctx, op, req, policy)
	})
	return result, err
}

// run executes one full retry sequence.
func (e *Executor) run(ctx context.Context, op Operation, req Request, policy Policy) (any, error) {
	breaker := e.breakerFor(req.ResourceKey)

	if err := breaker.Allow(req.ResourceKey); err != nil {
		e.metrics.RecordBreakerRejection(ctx, req.ResourceKey)
		e.logger.Warn(ctx, "call rejected by open circuit",
			observe.Field{Key: "resource_key", Value: req.ResourceKey},
			observe.Field{Key: "operation_type", Value: req.OperationType},
		)
		return nil, err
	}

	delay := policy.InitialDelay
	maxAttempts := policy.MaxRetries + 1
	var lastErr *Error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var slept time.Duration
		if attempt > 1 {
			slept = policy.jittered(delay)
			select {
			case <-ctx.Done():
				// The caller gave up mid-backoff; the resource was not
				// proven bad, so the breaker is left untouched.
				return nil, Normalize(ctx.Err())
			case <-time.After(slept):
			}
			delay = policy.next(delay)
		}

		result, err := op(ctx)
		normalized := Normalize(err)

		e.recordAttempt(req.ResourceKey, Attempt{
			Number:    attempt,
			Timestamp: time.Now(),
			Delay:     slept,
			Err:       normalized,
			Success:   err == nil,
		})
		e.metrics.RecordAttempt(ctx, req.ResourceKey, req.OperationType, attempt, err)

		if err == nil {
			breaker.RecordSuccess()
			return result, nil
		}

		lastErr = normalized
		if !policy.retryable(lastErr) || attempt == maxAttempts {
			break
		}

		e.logger.Debug(ctx, "retrying after failure",
			observe.Field{Key: "resource_key", Value: req.ResourceKey},
			observe.Field{Key: "attempt", Value: attempt},
			observe.Field{Key: "code", Value: lastErr.Code},
		)
	}

	breaker.RecordFailure()
	e.logger.Warn(ctx, "retry budget exhausted",
		observe.Field{Key: "resource_key", Value: req.ResourceKey},
		observe.Field{Key: "operation_type", Value: req.OperationType},
		observe.Field{Key: "code", Value: lastErr.Code},
	)
	return nil, lastErr
}

// breakerFor returns the key's breaker, creating it on first use.
func (e *Executor) breakerFor(key string) *CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[key]; ok {
		return cb
	}

	cfg := e.breaker
	userHook := cfg.OnStateChange
	cfg.OnStateChange = func(from, to State) {
		e.metrics.RecordBreakerTransition(context.Background(), key, from.String(), to.String())
		if userHook != nil {
			userHook(from, to)
		}
	}

	cb := NewCircuitBreaker(cfg)
	e.breakers[key] = cb
	return cb
}

func (e *Executor) recordAttempt(key string, a Attempt) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.histories[key]
	if !ok {
		h = &History{ResourceKey: key}
		e.histories[key] = h
	}
	h.record(a)
}

// BreakerStatus returns a snapshot of the key's circuit breaker. The
// second return is false when no call has touched the key yet.
func (e *Executor) BreakerStatus(key string) (BreakerStatus, bool) {
	e.mu.Lock()
	cb, ok := e.breakers[key]
	e.mu.Unlock()

	if !ok {
		return BreakerStatus{}, false
	}
	return cb.Status(), true
}

// ResetBreaker returns the key's breaker to closed. No-op for unknown keys.
func (e *Executor) ResetBreaker(key string) {
	e.mu.Lock()
	cb, ok := e.breakers[key]
	e.mu.Unlock()

	if ok {
		cb.Reset()
	}
}

// Statistics returns a copy of the key's retry history.
func (e *Executor) Statistics(key string) (History, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.histories[key]
	if !ok {
		return History{}, false
	}
	return h.clone(), true
}

// AllStatistics returns copies of every key's retry history.
func (e *Executor) AllStatistics() map[string]History {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]History, len(e.histories))
	for key, h := range e.histories {
		out[key] = h.clone()
	}
	return out
}

// BreakerStates returns the current state of every known breaker. Intended
// for health checks and dashboards.
func (e *Executor) BreakerStates() map[string]State {
	e.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(e.breakers))
	for key, cb := range e.breakers {
		breakers[key] = cb
	}
	e.mu.Unlock()

	out := make(map[string]State, len(breakers))
	for key, cb := range breakers {
		out[key] = cb.State()
	}
	return out
}
