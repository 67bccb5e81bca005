// Package resilience wraps asynchronous operations with per-resource-key
// circuit breakers, policy-driven retry with exponential backoff, and
// attempt analytics.
//
// # Model
//
// An Executor owns one circuit breaker and one retry history per resource
// key. Every protected call goes through ExecuteWithRetry:
//
//   - An open breaker rejects the call before the operation is invoked,
//     with a *CircuitOpenError carrying the next allowed attempt time.
//   - Failures are normalized to a stable {code, message, retryable}
//     shape; retryable codes are retried with exponential backoff and
//     optional ±25% jitter until the policy budget is exhausted.
//   - Concurrent calls sharing {resource key, operation type} coalesce
//     onto the in-flight sequence; the operation runs once and every
//     caller receives the same outcome.
//   - Only the final outcome of a sequence feeds the breaker; every
//     individual attempt feeds the key's history.
//
// The open→half-open transition is lazy: it happens on the next status
// read or call past the reset timeout, never on a background timer.
//
// # Usage
//
//	exec := resilience.NewExecutor(resilience.ExecutorConfig{
//	    Policy: resilience.Policy{
//	        MaxRetries:        3,
//	        InitialDelay:      time.Second,
//	        MaxDelay:          8 * time.Second,
//	        BackoffMultiplier: 2.0,
//	        Jitter:            true,
//	        RetryableCodes:    resilience.DefaultRetryableCodes(),
//	    },
//	    Breaker: resilience.BreakerConfig{
//	        FailureThreshold: 5,
//	        ResetTimeout:     30 * time.Second,
//	    },
//	})
//
//	result, err := exec.ExecuteWithRetry(ctx, func(ctx context.Context) (any, error) {
//	    return client.StartExecution(ctx, req)
//	}, resilience.Request{ResourceKey: "wordcount", OperationType: "start"}, nil)
//
// Analytics reads the accumulated histories and produces per-key failure
// rates, dominant error codes and textual tuning suggestions:
//
//	insights := resilience.NewAnalytics(exec).ReportAll()
package resilience
