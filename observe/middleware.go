package observe

import (
	"context"
	"time"
)

// OperationFunc is the signature for instrumented operations.
// Both the execution engine's remote calls and the resilience layer's
// wrapped operations fit this shape.
type OperationFunc func(ctx context.Context) (any, error)

// Middleware wraps operations with observability (tracing, metrics, logging).
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe OperationFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from the wrapped function are recorded and propagated unchanged.
//   - Ownership: Result values are passed through without modification.
type Middleware struct {
	tracer  Tracer
	metrics ExecutionMetrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
func NewMiddleware(tracer Tracer, metrics ExecutionMetrics, logger Logger) *Middleware {
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap wraps an OperationFunc with tracing, metrics, and logging for the
// given execution.
func (m *Middleware) Wrap(meta ExecMeta, fn OperationFunc) OperationFunc {
	return func(ctx context.Context) (any, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)

		start := time.Now()
		result, err := fn(ctx)
		duration := time.Since(start)

		m.tracer.EndSpan(span, err)

		status := "ok"
		if err != nil {
			status = "error"
		}
		m.metrics.RecordTerminal(ctx, meta, status, duration)

		logger := m.logger.WithExecution(meta)
		fields := []Field{
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		}
		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			logger.Error(ctx, "operation failed", fields...)
		} else {
			logger.Info(ctx, "operation completed", fields...)
		}

		return result, err
	}
}
