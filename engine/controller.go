package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jonwraymond/toolexec/observe"
)

// Config configures a Controller.
type Config struct {
	// Scenario decides the outcome of every start request. Required.
	Scenario ScenarioProvider

	// Results generates result payloads on successful completion.
	// Default: an opaque summary map.
	Results ResultProvider

	// HistoryCapacity bounds the terminal history FIFO.
	// Default: 50
	HistoryCapacity int

	// MinTickInterval floors the progress tick cadence.
	// Default: 100ms
	MinTickInterval time.Duration

	// Logger receives structured engine logs. Default: discard.
	Logger observe.Logger

	// Metrics receives execution instruments. Default: discard.
	Metrics observe.ExecutionMetrics

	// Tracer wraps start requests in spans. Default: no-op.
	Tracer observe.Tracer
}

// StartOptions carries optional per-execution settings.
type StartOptions struct {
	// Environment is passed through to the scenario provider.
	Environment string

	// Metadata is attached to the record as-is.
	Metadata map[string]any
}

// Controller orchestrates the execution lifecycle: start, status, progress,
// cancellation, results, history and cleanup.
//
// Contract:
//   - Concurrency: safe for concurrent use. Concurrent Start calls always
//     yield distinct execution ids.
//   - Ownership: the controller (with its simulator) is the sole mutator of
//     records; every accessor returns a snapshot.
type Controller struct {
	cfg      Config
	reg      *Registry
	sim      *simulator
	scenario ScenarioProvider
	logger   observe.Logger
	metrics  observe.ExecutionMetrics
	tracer   observe.Tracer

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// New creates a Controller. Each instance owns isolated registry, history
// and timer state, so tests can build throwaway engines.
func New(cfg Config) (*Controller, error) {
	if cfg.Scenario == nil {
		return nil, fmt.Errorf("engine: scenario provider is required")
	}
	if cfg.Results == nil {
		cfg.Results = ResultFunc(defaultResults)
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.NopExecutionMetrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observe.NewNopTracer()
	}

	reg := NewRegistry(cfg.HistoryCapacity)

	return &Controller{
		cfg:      cfg,
		reg:      reg,
		sim:      newSimulator(reg, cfg.Results, cfg.MinTickInterval, cfg.Logger, cfg.Metrics),
		scenario: cfg.Scenario,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		entropy:  ulid.Monotonic(rand.NewChaCha8(seed()), 0),
	}, nil
}

// seed derives entropy for the id generator.
func seed() [32]byte {
	var s [32]byte
	for i := 0; i < 4; i++ {
		v := rand.Uint64()
		for j := 0; j < 8; j++ {
			s[i*8+j] = byte(v >> (8 * j))
		}
	}
	return s
}

// newID mints a time-ordered, collision-free execution id.
func (c *Controller) newID() string {
	c.entropyMu.Lock()
	defer c.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), c.entropy).String()
}

// Start accepts an execution request. The scenario provider decides the
// outcome up front: an immediate failure (ShouldFail with zero duration)
// produces a record that is already failed with no timers scheduled;
// anything else starts running with progress simulation.
func (c *Controller) Start(ctx context.Context, toolID string, inputs map[string]any, opts StartOptions) (StartReceipt, error) {
	if toolID == "" {
		return StartReceipt{}, newError(CodeValidationFailed, "tool id is required", false)
	}

	outcome := c.scenario.Decide(toolID, inputs, opts.Environment)

	id := c.newID()
	meta := observe.ExecMeta{ExecutionID: id, ToolID: toolID, Environment: opts.Environment}

	ctx, span := c.tracer.StartSpan(ctx, meta)
	defer func() { c.tracer.EndSpan(span, nil) }()

	start := time.Now()
	rec := &Record{
		ID:        id,
		ToolID:    toolID,
		Inputs:    inputs,
		StartTime: start,
		Metadata:  opts.Metadata,
	}

	if outcome.ShouldFail && outcome.Duration <= 0 {
		// Pre-flight failure: terminal from the first observation.
		end := start
		rec.Status = StatusFailed
		rec.EndTime = &end
		rec.Err = outcome.Err
		if rec.Err == nil {
			rec.Err = newError(CodeExecutionFailed, "tool execution failed", true)
		}

		c.reg.putTerminal(rec)

		c.metrics.RecordStart(ctx, meta)
		c.metrics.RecordTerminal(ctx, meta, StatusFailed.String(), 0)
		c.logger.WithExecution(meta).Warn(ctx, "execution failed pre-flight",
			observe.Field{Key: "error", Value: rec.Err.Error()},
		)

		return StartReceipt{
			ExecutionID: id,
			Status:      StatusFailed,
			Message:     rec.Err.Message,
			StartTime:   start,
		}, nil
	}

	rec.Status = StatusRunning
	rec.ProgressMessage = phaseLabels[0]

	c.reg.put(rec)
	c.sim.Schedule(id, start, outcome)

	c.metrics.RecordStart(ctx, meta)
	c.logger.WithExecution(meta).Info(ctx, "execution started",
		observe.Field{Key: "duration_ms", Value: outcome.Duration.Milliseconds()},
	)

	return StartReceipt{
		ExecutionID: id,
		Status:      StatusRunning,
		Message:     "execution started",
		StartTime:   start,
	}, nil
}

// Status returns a snapshot of the record.
func (c *Controller) Status(id string) (Record, error) {
	rec, ok := c.reg.Get(id)
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Progress reports the current progress plus an estimated time remaining,
// extrapolated from the elapsed/progress ratio. The estimate is nil when
// progress is zero or the execution is not running.
func (c *Controller) Progress(id string) (ProgressReport, error) {
	rec, ok := c.reg.Get(id)
	if !ok {
		return ProgressReport{}, ErrNotFound
	}

	report := ProgressReport{
		Progress:        rec.Progress,
		ProgressMessage: rec.ProgressMessage,
		Status:          rec.Status,
	}

	if rec.Status == StatusRunning && rec.Progress > 0 {
		elapsed := time.Since(rec.StartTime)
		remaining := time.Duration(float64(elapsed) * (100 - rec.Progress) / rec.Progress)
		report.EstimatedRemaining = &remaining
	}

	return report, nil
}

// Cancel stops a running execution: both its timers are cancelled, the
// status becomes cancelled and a non-retryable cancellation error is
// attached. Cancelling a terminal execution (including a second cancel of
// the same id) returns ErrInvalidState; an unknown id returns ErrNotFound.
func (c *Controller) Cancel(id string) error {
	if _, ok := c.reg.Get(id); !ok {
		return ErrNotFound
	}

	// Timers first: once both handles are cleared no stale callback can
	// resurrect the record we are about to terminate.
	c.sim.Stop(id)

	var meta observe.ExecMeta
	var elapsed time.Duration
	applied := c.reg.recordTerminal(id, func(rec *Record) {
		now := time.Now()
		rec.Status = StatusCancelled
		rec.EndTime = &now
		rec.Duration = now.Sub(rec.StartTime)
		rec.Err = newError(CodeExecutionCancelled, "execution cancelled by caller", false)
		meta = observe.ExecMeta{ExecutionID: rec.ID, ToolID: rec.ToolID}
		elapsed = rec.Duration
	})
	if !applied {
		return ErrInvalidState
	}

	ctx := context.Background()
	c.metrics.RecordTerminal(ctx, meta, StatusCancelled.String(), elapsed)
	c.logger.WithExecution(meta).Info(ctx, "execution cancelled")
	return nil
}

// Results returns the payload of a completed execution. Any other state is
// ErrNotCompleted; unknown ids are ErrNotFound.
func (c *Controller) Results(id string) (ResultPayload, error) {
	rec, ok := c.reg.Get(id)
	if !ok {
		return ResultPayload{}, ErrNotFound
	}
	if rec.Status != StatusCompleted {
		return ResultPayload{}, ErrNotCompleted
	}

	return ResultPayload{
		ExecutionID: rec.ID,
		ToolID:      rec.ToolID,
		Results:     rec.Results,
		Metadata:    rec.Metadata,
	}, nil
}

// History returns up to limit terminal snapshots, most recent first.
func (c *Controller) History(limit int) []HistoryEntry {
	return c.reg.History(limit)
}

// Cleanup evicts terminal live records older than maxAge. The history
// list is unaffected. Returns the eviction count.
func (c *Controller) Cleanup(maxAge time.Duration) int {
	removed := c.reg.Cleanup(maxAge)
	if removed > 0 {
		c.logger.Info(context.Background(), "registry cleanup",
			observe.Field{Key: "removed", Value: removed},
		)
	}
	return removed
}

// Registry exposes the underlying registry for read-only collaborators
// such as health checkers.
func (c *Controller) Registry() *Registry {
	return c.reg
}

// WaitUntilTerminal polls until the execution reaches a terminal state,
// checking at the given interval up to maxAttempts times. Returns the
// terminal snapshot, or ErrTimeout when the budget is exhausted.
func (c *Controller) WaitUntilTerminal(ctx context.Context, id string, interval time.Duration, maxAttempts int) (Record, error) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	if maxAttempts <= 0 {
		maxAttempts = 100
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		rec, ok := c.reg.Get(id)
		if !ok {
			return Record{}, ErrNotFound
		}
		if rec.Status.Terminal() {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-time.After(interval):
		}
	}

	return Record{}, ErrTimeout
}
