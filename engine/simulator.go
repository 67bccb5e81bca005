package engine

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonwraymond/toolexec/observe"
)

// Progress curve shape: fast ramp to 20% over the first tenth of the run,
// slow climb to 80% through the middle, then up to the 95% cap where the
// bar parks until the terminal transition fires.
const (
	rampEndFraction  = 0.10
	climbEndFraction = 0.80
	progressCap      = 95.0
	tickDivisor      = 20
)

// DefaultMinTickInterval floors the progress tick cadence.
const DefaultMinTickInterval = 100 * time.Millisecond

// phaseLabels are the ordered progress messages, selected proportionally
// to the current percentage.
var phaseLabels = []string{
	"initializing",
	"validating inputs",
	"preparing resources",
	"processing",
	"processing",
	"analyzing output",
	"finalizing",
}

// completedLabel is the message applied at the terminal completion.
const completedLabel = "completed"

// simulator drives the progress curve and the terminal transition for
// running executions. One instance per controller.
//
// The per-id handle table pairs the tick loop with the terminal timer so
// Stop cancels both in one critical section; a stale callback can then
// never mutate a record that was cancelled or finished concurrently.
type simulator struct {
	reg     *Registry
	results ResultProvider
	minTick time.Duration
	logger  observe.Logger
	metrics observe.ExecutionMetrics

	mu     sync.Mutex
	timers map[string]*timerSet
}

type timerSet struct {
	ticker   *time.Ticker
	done     chan struct{}
	terminal *time.Timer
}

func newSimulator(reg *Registry, results ResultProvider, minTick time.Duration, logger observe.Logger, metrics observe.ExecutionMetrics) *simulator {
	if minTick <= 0 {
		minTick = DefaultMinTickInterval
	}
	return &simulator{
		reg:     reg,
		results: results,
		minTick: minTick,
		logger:  logger,
		metrics: metrics,
		timers:  make(map[string]*timerSet),
	}
}

// Schedule starts the tick loop and arms the terminal timer for a running
// execution. The terminal transition fires exactly once, at T=duration,
// independent of tick cadence.
func (s *simulator) Schedule(id string, start time.Time, outcome Outcome) {
	interval := outcome.Duration / tickDivisor
	if interval < s.minTick {
		interval = s.minTick
	}

	ts := &timerSet{
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	ts.terminal = time.AfterFunc(outcome.Duration, func() {
		s.finish(id, outcome)
	})

	s.mu.Lock()
	s.timers[id] = ts
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ts.done:
				return
			case now := <-ts.ticker.C:
				s.tick(id, start, outcome.Duration, now)
			}
		}
	}()
}

// Stop cancels both the tick loop and the terminal timer for id. Safe to
// call for unknown ids and safe to call more than once.
func (s *simulator) Stop(id string) {
	s.mu.Lock()
	ts, ok := s.timers[id]
	if ok {
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	ts.ticker.Stop()
	ts.terminal.Stop()
	close(ts.done)
}

// tick advances the progress curve one step. No-op once the record left
// the running state.
func (s *simulator) tick(id string, start time.Time, duration time.Duration, now time.Time) {
	fraction := 1.0
	if duration > 0 {
		fraction = float64(now.Sub(start)) / float64(duration)
	}

	target := progressCurve(fraction)

	// Small bounded jitter so the bar moves organically; clamped back to
	// [0, cap] and never allowed to run backwards.
	// #nosec G404 -- jitter is non-cryptographic timing variance.
	target += rand.Float64()*4 - 2
	if target < 0 {
		target = 0
	}
	if target > progressCap {
		target = progressCap
	}

	s.reg.update(id, func(rec *Record) {
		if rec.Status != StatusRunning {
			return
		}
		if target > rec.Progress {
			rec.Progress = target
		}
		rec.ProgressMessage = phaseLabel(rec.Progress)
	})
}

// finish applies the terminal transition. The record is re-checked under
// the registry lock: if a racing cancel already made it terminal, nothing
// happens and no duplicate history entry is appended.
func (s *simulator) finish(id string, outcome Outcome) {
	s.Stop(id)

	var meta observe.ExecMeta
	var status Status
	var elapsed time.Duration
	changed := false

	s.reg.recordTerminal(id, func(rec *Record) {
		if rec.Status != StatusRunning {
			return
		}
		changed = true

		now := time.Now()
		rec.EndTime = &now
		rec.Duration = now.Sub(rec.StartTime)

		if outcome.ShouldFail {
			rec.Status = StatusFailed
			rec.Err = outcome.Err
			if rec.Err == nil {
				rec.Err = newError(CodeExecutionFailed, "tool execution failed", true)
			}
		} else {
			rec.Status = StatusCompleted
			rec.Progress = 100
			rec.ProgressMessage = completedLabel
			rec.Results = s.results.Generate(rec.ToolID, rec.Inputs)
			if rec.Metadata == nil {
				rec.Metadata = make(map[string]any)
			}
			rec.Metadata["durationMs"] = rec.Duration.Milliseconds()
			rec.Metadata["simulated"] = true
		}

		meta = observe.ExecMeta{ExecutionID: rec.ID, ToolID: rec.ToolID}
		status = rec.Status
		elapsed = rec.Duration
	})

	if !changed {
		return
	}

	ctx := context.Background()
	s.metrics.RecordTerminal(ctx, meta, status.String(), elapsed)
	s.logger.WithExecution(meta).Info(ctx, "execution reached terminal state",
		observe.Field{Key: "status", Value: status.String()},
		observe.Field{Key: "duration_ms", Value: elapsed.Milliseconds()},
	)
}

// progressCurve maps the elapsed fraction of the run to a percentage.
func progressCurve(f float64) float64 {
	switch {
	case f <= 0:
		return 0
	case f <= rampEndFraction:
		return f / rampEndFraction * 20
	case f <= climbEndFraction:
		return 20 + (f-rampEndFraction)/(climbEndFraction-rampEndFraction)*60
	default:
		p := 80 + (f-climbEndFraction)/(1-climbEndFraction)*15
		if p > progressCap {
			p = progressCap
		}
		return p
	}
}

// phaseLabel picks the phase message proportional to progress.
func phaseLabel(progress float64) string {
	idx := int(progress / 100 * float64(len(phaseLabels)))
	if idx >= len(phaseLabels) {
		idx = len(phaseLabels) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return phaseLabels[idx]
}
