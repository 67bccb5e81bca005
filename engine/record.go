package engine

import "time"

// Status represents the lifecycle state of an execution.
type Status int

const (
	// StatusPending means the execution was accepted but not yet running.
	// Pending is transient: Start promotes it immediately.
	StatusPending Status = iota
	// StatusRunning means progress simulation is underway.
	StatusRunning
	// StatusCompleted means the execution finished successfully.
	StatusCompleted
	// StatusFailed means the execution finished with an error.
	StatusFailed
	// StatusCancelled means the execution was cancelled by a caller.
	StatusCancelled
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is absorbing: no further transition
// is possible out of it.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Record is the live state of one execution.
//
// Ownership: the controller and its simulator are the sole mutators; all
// accessors hand out snapshot copies.
type Record struct {
	// ID is the opaque unique execution identifier.
	ID string

	// ToolID names the tool being executed.
	ToolID string

	// Inputs is the opaque input map the execution was started with.
	Inputs map[string]any

	// Status is the current lifecycle state.
	Status Status

	// Progress is the simulated completion percentage in [0, 100].
	// Non-decreasing while running; exactly 100 at completion.
	Progress float64

	// ProgressMessage is a human-readable phase label.
	ProgressMessage string

	// StartTime is when the execution was accepted.
	StartTime time.Time

	// EndTime is set iff the status is terminal.
	EndTime *time.Time

	// Duration is EndTime minus StartTime once terminal.
	Duration time.Duration

	// Err is the terminal failure, if any. Never cleared once set.
	Err *Error

	// Results is the opaque result payload, set only on completion.
	Results any

	// Metadata carries caller- and engine-supplied metadata.
	Metadata map[string]any
}

// snapshot returns a copy safe to hand to callers. Inputs and Metadata are
// cloned one level deep; values remain shared (they are treated as opaque).
func (r *Record) snapshot() Record {
	out := *r
	if r.Inputs != nil {
		out.Inputs = make(map[string]any, len(r.Inputs))
		for k, v := range r.Inputs {
			out.Inputs[k] = v
		}
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	if r.EndTime != nil {
		t := *r.EndTime
		out.EndTime = &t
	}
	return out
}

// HistoryEntry is an immutable snapshot of a terminal execution.
type HistoryEntry struct {
	// Record is the execution state at the moment it went terminal.
	Record Record

	// RecordedAt is when the entry was appended to history.
	RecordedAt time.Time
}

// StartReceipt is returned by Start.
type StartReceipt struct {
	ExecutionID string
	Status      Status
	Message     string
	StartTime   time.Time
}

// ProgressReport is returned by Progress.
type ProgressReport struct {
	Progress        float64
	ProgressMessage string
	Status          Status

	// EstimatedRemaining extrapolates from the elapsed/progress ratio.
	// Nil when progress is zero or the execution is not running.
	EstimatedRemaining *time.Duration
}

// ResultPayload is returned by Results for a completed execution.
type ResultPayload struct {
	ExecutionID string
	ToolID      string

	// Results is the opaque payload from the result provider.
	Results any

	// Metadata carries synthetic performance figures for the run.
	Metadata map[string]any
}
