// Package engine models the lifecycle of simulated long-running tool
// executions.
//
// A Controller accepts start requests, consults an injected
// ScenarioProvider for the precomputed outcome, and drives each execution
// through pending → running → {completed, failed, cancelled}. While an
// execution runs, a progress simulator advances a three-phase progress
// curve and a single terminal timer applies the final transition at the
// scenario's duration. Terminal snapshots land in a bounded
// most-recent-first history; age-based cleanup evicts stale terminal
// records from the live registry without touching history.
//
// # Usage
//
//	ctrl, err := engine.New(engine.Config{
//	    Scenario: engine.FixedScenario(engine.Outcome{
//	        Duration: 2 * time.Second,
//	    }),
//	})
//	if err != nil {
//	    return err
//	}
//
//	receipt, err := ctrl.Start(ctx, "wordcount", map[string]any{
//	    "text": "hello world",
//	}, engine.StartOptions{})
//	if err != nil {
//	    return err
//	}
//
//	rec, err := ctrl.WaitUntilTerminal(ctx, receipt.ExecutionID, 100*time.Millisecond, 50)
//	if err != nil {
//	    return err
//	}
//	if rec.Status == engine.StatusCompleted {
//	    payload, _ := ctrl.Results(receipt.ExecutionID)
//	    _ = payload.Results
//	}
//
// The engine performs no real work and persists nothing; it exists to give
// callers a faithful asynchronous lifecycle to build against. Wrapping
// calls to a remote instance of this engine in the resilience package's
// retry executor is the intended composition.
package engine
