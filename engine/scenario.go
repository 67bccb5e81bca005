package engine

import (
	"time"
)

// Outcome is the precomputed decision for one execution: whether it will
// fail, how long it runs, and the failure to attach if it does.
type Outcome struct {
	// ShouldFail marks the execution for terminal failure.
	ShouldFail bool

	// Duration is the simulated run time. ShouldFail with a zero Duration
	// means an immediate pre-flight failure: the record is created already
	// failed and no timers are scheduled.
	Duration time.Duration

	// Err is the failure to attach when ShouldFail is set. Optional; a
	// generic execution failure is substituted when nil.
	Err *Error
}

// ScenarioProvider decides the outcome of an execution up front. The
// controller never decides success probability itself.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Ownership: inputs must be treated as read-only.
type ScenarioProvider interface {
	// Decide returns the outcome for a start request.
	Decide(toolID string, inputs map[string]any, environment string) Outcome
}

// ScenarioFunc is an adapter to allow ordinary functions to be used as
// ScenarioProviders.
type ScenarioFunc func(toolID string, inputs map[string]any, environment string) Outcome

// Decide returns the outcome for a start request.
func (f ScenarioFunc) Decide(toolID string, inputs map[string]any, environment string) Outcome {
	return f(toolID, inputs, environment)
}

// FixedScenario returns a provider that yields the same outcome for every
// execution. Useful for deterministic tests.
func FixedScenario(outcome Outcome) ScenarioProvider {
	return ScenarioFunc(func(string, map[string]any, string) Outcome {
		return outcome
	})
}

// ResultProvider generates the opaque result payload for a successfully
// completed execution. Consulted exactly once, at the terminal transition.
type ResultProvider interface {
	// Generate returns the result payload for a completed execution.
	Generate(toolID string, inputs map[string]any) any
}

// ResultFunc is an adapter to allow ordinary functions to be used as
// ResultProviders.
type ResultFunc func(toolID string, inputs map[string]any) any

// Generate returns the result payload for a completed execution.
func (f ResultFunc) Generate(toolID string, inputs map[string]any) any {
	return f(toolID, inputs)
}

// defaultResults is the fallback result provider: an opaque summary map.
func defaultResults(toolID string, inputs map[string]any) any {
	return map[string]any{
		"toolId":     toolID,
		"inputCount": len(inputs),
		"status":     "ok",
	}
}
