package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fastPolicy keeps test backoff in the millisecond range.
func fastPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:        maxRetries,
		InitialDelay:      time.Millisecond,
		MaxDelay:          10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}
}

func transientError(msg string) *Error {
	return &Error{Code: CodeNetworkError, Message: msg, Retryable: true}
}

func TestExecutor_Success(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Policy: fastPolicy(3)})

	result, err := exec.ExecuteWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	}, Request{ResourceKey: "svc", OperationType: "read"}, nil)

	if err != nil {
		t.Fatalf("ExecuteWithRetry() error = %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %v, want ok", result)
	}

	h, ok := exec.Statistics("svc")
	if !ok {
		t.Fatal("no history recorded")
	}
	if h.TotalAttempts != 1 || h.TotalRetries != 0 {
		t.Errorf("attempts/retries = %d/%d, want 1/0", h.TotalAttempts, h.TotalRetries)
	}
}

func TestExecutor_RetriesUntilSuccess(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Policy: fastPolicy(3)})

	var calls int32
	result, err := exec.ExecuteWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, transientError("flaky")
		}
		return "recovered", nil
	}, Request{ResourceKey: "svc", OperationType: "read"}, nil)

	if err != nil {
		t.Fatalf("ExecuteWithRetry() error = %v", err)
	}
	if result != "recovered" {
		t.Errorf("result = %v, want recovered", result)
	}
	if calls != 3 {
		t.Errorf("operation invoked %d times, want 3", calls)
	}

	h, _ := exec.Statistics("svc")
	if h.TotalAttempts != 3 || h.TotalRetries != 2 || h.SuccessfulRetries != 1 || h.FailedRetries != 1 {
		t.Errorf("history = %d/%d/%d/%d, want 3 attempts, 2 retries, 1 successful, 1 failed",
			h.TotalAttempts, h.TotalRetries, h.SuccessfulRetries, h.FailedRetries)
	}

	// A successful sequence leaves the breaker untouched by failure.
	status, ok := exec.BreakerStatus("svc")
	if !ok {
		t.Fatal("no breaker for svc")
	}
	if status.FailureCount != 0 {
		t.Errorf("breaker FailureCount = %d, want 0 for a resolved sequence", status.FailureCount)
	}
}

func TestExecutor_NonRetryableFailsImmediately(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Policy: fastPolicy(3)})

	var calls int32
	_, err := exec.ExecuteWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &Error{Code: CodeValidationFailed, Message: "bad input", Retryable: false}
	}, Request{ResourceKey: "svc", OperationType: "write"}, nil)

	if err == nil {
		t.Fatal("ExecuteWithRetry() = nil, want error")
	}
	if calls != 1 {
		t.Errorf("operation invoked %d times, want 1 for a non-retryable failure", calls)
	}

	var typed *Error
	if !errors.As(err, &typed) || typed.Code != CodeValidationFailed {
		t.Errorf("error = %v, want code %s", err, CodeValidationFailed)
	}
}

func TestExecutor_BudgetExhaustedPropagatesLastError(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Policy: fastPolicy(2)})

	var calls int32
	_, err := exec.ExecuteWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, transientError("still down")
	}, Request{ResourceKey: "svc", OperationType: "read"}, nil)

	if err == nil {
		t.Fatal("ExecuteWithRetry() = nil, want error")
	}
	// Initial attempt plus two retries.
	if calls != 3 {
		t.Errorf("operation invoked %d times, want 3", calls)
	}

	var typed *Error
	if !errors.As(err, &typed) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if typed.Code != CodeNetworkError || typed.Message != "still down" {
		t.Errorf("error = %v, want the last attempt's error unchanged", typed)
	}

	// The sequence outcome is one breaker failure, not three.
	status, _ := exec.BreakerStatus("svc")
	if status.FailureCount != 1 {
		t.Errorf("breaker FailureCount = %d, want 1 per failed sequence", status.FailureCount)
	}
}

func TestExecutor_RecordedBackoffDelays(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Policy: Policy{
		MaxRetries:        3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          4 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}})

	_, _ = exec.ExecuteWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		return nil, transientError("down")
	}, Request{ResourceKey: "svc", OperationType: "read"}, nil)

	h, _ := exec.Statistics("svc")
	if len(h.Attempts) != 4 {
		t.Fatalf("recorded %d attempts, want 4", len(h.Attempts))
	}

	want := []time.Duration{0, time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	for i, att := range h.Attempts {
		if att.Delay != want[i] {
			t.Errorf("attempt %d delay = %v, want %v", att.Number, att.Delay, want[i])
		}
		if att.Number != i+1 {
			t.Errorf("attempt number = %d, want %d", att.Number, i+1)
		}
	}
}

func TestExecutor_OpenBreakerFailsFast(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{
		Policy:  fastPolicy(1),
		Breaker: BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute},
	})

	fail := func(ctx context.Context) (any, error) {
		return nil, transientError("down")
	}
	req := Request{ResourceKey: "svc", OperationType: "read"}

	// Two failed sequences open the breaker.
	_, _ = exec.ExecuteWithRetry(context.Background(), fail, req, nil)
	_, _ = exec.ExecuteWithRetry(context.Background(), fail, req, nil)

	status, _ := exec.BreakerStatus("svc")
	if status.State != StateOpen {
		t.Fatalf("breaker state = %v, want open", status.State)
	}

	var calls int32
	_, err := exec.ExecuteWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "should not run", nil
	}, req, nil)

	if calls != 0 {
		t.Error("operation invoked through an open breaker")
	}

	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("error type = %T, want *CircuitOpenError", err)
	}
	if openErr.NextAttempt.IsZero() {
		t.Error("NextAttempt not set on rejection")
	}

	// Rejections do not pollute the attempt history.
	h, _ := exec.Statistics("svc")
	if h.TotalAttempts != 4 {
		t.Errorf("TotalAttempts = %d, want 4 (rejections excluded)", h.TotalAttempts)
	}
}

func TestExecutor_ResetBreakerRestoresFlow(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{
		Policy:  fastPolicy(1),
		Breaker: BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute},
	})
	req := Request{ResourceKey: "svc", OperationType: "read"}

	_, _ = exec.ExecuteWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		return nil, transientError("down")
	}, req, nil)

	if _, err := exec.ExecuteWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		return "x", nil
	}, req, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("pre-reset error = %v, want ErrCircuitOpen", err)
	}

	exec.ResetBreaker("svc")

	result, err := exec.ExecuteWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		return "back", nil
	}, req, nil)
	if err != nil {
		t.Fatalf("post-reset error = %v", err)
	}
	if result != "back" {
		t.Errorf("result = %v, want back", result)
	}

	// Unknown keys are a no-op.
	exec.ResetBreaker("never-seen")
}

func TestExecutor_NormalizesPlainErrors(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Policy: fastPolicy(3)})

	var calls int32
	_, err := exec.ExecuteWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("something broke")
	}, Request{ResourceKey: "svc", OperationType: "read"}, nil)

	var typed *Error
	if !errors.As(err, &typed) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if typed.Code != CodeUnknown {
		t.Errorf("code = %q, want %q", typed.Code, CodeUnknown)
	}
	// Unknown errors are not retryable: one invocation only.
	if calls != 1 {
		t.Errorf("operation invoked %d times, want 1", calls)
	}
}

func TestExecutor_PolicyOverride(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Policy: fastPolicy(5)})

	override := fastPolicy(1)
	var calls int32
	_, err := exec.ExecuteWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, transientError("down")
	}, Request{ResourceKey: "svc", OperationType: "read"}, &override)

	if err == nil {
		t.Fatal("ExecuteWithRetry() = nil, want error")
	}
	if calls != 2 {
		t.Errorf("operation invoked %d times, want 2 under the override", calls)
	}
}

func TestExecutor_ContextCancelledDuringBackoff(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Policy: Policy{
		MaxRetries:        3,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := exec.ExecuteWithRetry(ctx, func(ctx context.Context) (any, error) {
		return nil, transientError("down")
	}, Request{ResourceKey: "svc", OperationType: "read"}, nil)
	elapsed := time.Since(start)

	var typed *Error
	if !errors.As(err, &typed) || typed.Code != CodeCancelled {
		t.Fatalf("error = %v, want code %s", err, CodeCancelled)
	}
	if elapsed > 150*time.Millisecond {
		t.Errorf("returned after %v, want prompt abort of the backoff sleep", elapsed)
	}

	// Caller abandonment is not evidence against the resource.
	status, _ := exec.BreakerStatus("svc")
	if status.FailureCount != 0 {
		t.Errorf("breaker FailureCount = %d, want 0 after ctx cancellation", status.FailureCount)
	}
}

func TestExecutor_Validation(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{})

	_, err := exec.ExecuteWithRetry(context.Background(), nil, Request{ResourceKey: "svc"}, nil)
	if !errors.Is(err, ErrNilOperation) {
		t.Errorf("nil operation error = %v, want ErrNilOperation", err)
	}

	_, err = exec.ExecuteWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	}, Request{}, nil)
	if !errors.Is(err, ErrMissingResourceKey) {
		t.Errorf("missing key error = %v, want ErrMissingResourceKey", err)
	}
}

func TestExecutor_CoalescesConcurrentCalls(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Policy: fastPolicy(1)})

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32

	op := func(ctx context.Context) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return "shared", nil
	}
	req := Request{ResourceKey: "svc", OperationType: "read"}

	const callers = 5
	var wg sync.WaitGroup
	results := make([]any, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n == 0 {
				results[n], errs[n] = exec.ExecuteWithRetry(context.Background(), op, req, nil)
				return
			}
			<-started
			results[n], errs[n] = exec.ExecuteWithRetry(context.Background(), op, req, nil)
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Errorf("operation invoked %d times, want 1 for coalesced callers", calls)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d error = %v", i, errs[i])
		}
		if results[i] != "shared" {
			t.Errorf("caller %d result = %v, want shared", i, results[i])
		}
	}

	// One sequence, one recorded attempt.
	h, _ := exec.Statistics("svc")
	if h.TotalAttempts != 1 {
		t.Errorf("TotalAttempts = %d, want 1", h.TotalAttempts)
	}
}

func TestExecutor_DistinctOperationTypesNotCoalesced(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Policy: fastPolicy(1)})

	release := make(chan struct{})
	var calls int32

	op := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil, nil
	}

	var wg sync.WaitGroup
	for _, opType := range []string{"read", "write"} {
		wg.Add(1)
		go func(ot string) {
			defer wg.Done()
			_, _ = exec.ExecuteWithRetry(context.Background(), op, Request{ResourceKey: "svc", OperationType: ot}, nil)
		}(opType)
	}

	// Both sequences must start independently.
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&calls) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("operation invoked %d times, want 2 for distinct operation types", got)
	}

	close(release)
	wg.Wait()
}

func TestExecutor_AllStatistics(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Policy: fastPolicy(1)})

	for _, key := range []string{"a", "b"} {
		_, _ = exec.ExecuteWithRetry(context.Background(), func(ctx context.Context) (any, error) {
			return nil, nil
		}, Request{ResourceKey: key, OperationType: "read"}, nil)
	}

	stats := exec.AllStatistics()
	if len(stats) != 2 {
		t.Fatalf("AllStatistics() has %d keys, want 2", len(stats))
	}
	for _, key := range []string{"a", "b"} {
		if stats[key].TotalAttempts != 1 {
			t.Errorf("stats[%q].TotalAttempts = %d, want 1", key, stats[key].TotalAttempts)
		}
	}

	if _, ok := exec.Statistics("missing"); ok {
		t.Error("Statistics() reported history for an untouched key")
	}
}

func TestExecutor_BreakerStates(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{
		Policy:  fastPolicy(1),
		Breaker: BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute},
	})

	_, _ = exec.ExecuteWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	}, Request{ResourceKey: "up", OperationType: "read"}, nil)

	_, _ = exec.ExecuteWithRetry(context.Background(), func(ctx context.Context) (any, error) {
		return nil, transientError("down")
	}, Request{ResourceKey: "down", OperationType: "read"}, nil)

	states := exec.BreakerStates()
	if states["up"] != StateClosed {
		t.Errorf("states[up] = %v, want closed", states["up"])
	}
	if states["down"] != StateOpen {
		t.Errorf("states[down] = %v, want open", states["down"])
	}
}
