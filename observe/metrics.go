package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ExecutionMetrics records metrics for the execution engine.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly; recording is best-effort.
// - Errors: implementations must not panic.
type ExecutionMetrics interface {
	// RecordStart records an accepted start request.
	RecordStart(ctx context.Context, meta ExecMeta)

	// RecordTerminal records an execution reaching a terminal state.
	RecordTerminal(ctx context.Context, meta ExecMeta, status string, duration time.Duration)
}

// RetryMetrics records metrics for the resilience layer.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type RetryMetrics interface {
	// RecordAttempt records one attempt within a retry sequence.
	RecordAttempt(ctx context.Context, resourceKey, operationType string, attempt int, err error)

	// RecordBreakerTransition records a circuit breaker state change.
	RecordBreakerTransition(ctx context.Context, resourceKey, from, to string)

	// RecordBreakerRejection records a call short-circuited by an open breaker.
	RecordBreakerRejection(ctx context.Context, resourceKey string)
}

// executionMetrics is the concrete implementation of ExecutionMetrics.
type executionMetrics struct {
	startCount   metric.Int64Counter
	termCount    metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewExecutionMetrics creates execution engine instruments on the given meter.
func NewExecutionMetrics(meter metric.Meter) (ExecutionMetrics, error) {
	startCount, err := meter.Int64Counter(
		"exec.started.total",
		metric.WithDescription("Total number of accepted execution start requests"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	termCount, err := meter.Int64Counter(
		"exec.terminal.total",
		metric.WithDescription("Total number of executions reaching a terminal state"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"exec.duration_ms",
		metric.WithDescription("Execution wall-clock duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &executionMetrics{
		startCount:   startCount,
		termCount:    termCount,
		durationHist: durationHist,
	}, nil
}

func (m *executionMetrics) RecordStart(ctx context.Context, meta ExecMeta) {
	m.startCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("exec.tool_id", meta.ToolID),
	))
}

func (m *executionMetrics) RecordTerminal(ctx context.Context, meta ExecMeta, status string, duration time.Duration) {
	opt := metric.WithAttributes(
		attribute.String("exec.tool_id", meta.ToolID),
		attribute.String("exec.status", status),
	)

	m.termCount.Add(ctx, 1, opt)
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

// retryMetrics is the concrete implementation of RetryMetrics.
type retryMetrics struct {
	attemptCount    metric.Int64Counter
	transitionCount metric.Int64Counter
	rejectionCount  metric.Int64Counter
}

// NewRetryMetrics creates resilience layer instruments on the given meter.
func NewRetryMetrics(meter metric.Meter) (RetryMetrics, error) {
	attemptCount, err := meter.Int64Counter(
		"retry.attempts.total",
		metric.WithDescription("Total number of attempts made by the retry executor"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	transitionCount, err := meter.Int64Counter(
		"breaker.transitions.total",
		metric.WithDescription("Total number of circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	rejectionCount, err := meter.Int64Counter(
		"breaker.rejections.total",
		metric.WithDescription("Total number of calls rejected by an open circuit breaker"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	return &retryMetrics{
		attemptCount:    attemptCount,
		transitionCount: transitionCount,
		rejectionCount:  rejectionCount,
	}, nil
}

func (m *retryMetrics) RecordAttempt(ctx context.Context, resourceKey, operationType string, attempt int, err error) {
	m.attemptCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("retry.resource_key", resourceKey),
		attribute.String("retry.operation_type", operationType),
		attribute.Int("retry.attempt", attempt),
		attribute.Bool("retry.error", err != nil),
	))
}

func (m *retryMetrics) RecordBreakerTransition(ctx context.Context, resourceKey, from, to string) {
	m.transitionCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker.resource_key", resourceKey),
		attribute.String("breaker.from", from),
		attribute.String("breaker.to", to),
	))
}

func (m *retryMetrics) RecordBreakerRejection(ctx context.Context, resourceKey string) {
	m.rejectionCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker.resource_key", resourceKey),
	))
}

// nopExecutionMetrics is an ExecutionMetrics that does nothing.
type nopExecutionMetrics struct{}

// NopExecutionMetrics returns an ExecutionMetrics that discards everything.
func NopExecutionMetrics() ExecutionMetrics { return &nopExecutionMetrics{} }

func (m *nopExecutionMetrics) RecordStart(ctx context.Context, meta ExecMeta) {}
func (m *nopExecutionMetrics) RecordTerminal(ctx context.Context, meta ExecMeta, status string, duration time.Duration) {
}

// nopRetryMetrics is a RetryMetrics that does nothing.
type nopRetryMetrics struct{}

// NopRetryMetrics returns a RetryMetrics that discards everything.
func NopRetryMetrics() RetryMetrics { return &nopRetryMetrics{} }

func (m *nopRetryMetrics) RecordAttempt(ctx context.Context, resourceKey, operationType string, attempt int, err error) {
}
func (m *nopRetryMetrics) RecordBreakerTransition(ctx context.Context, resourceKey, from, to string) {
}
func (m *nopRetryMetrics) RecordBreakerRejection(ctx context.Context, resourceKey string) {}
