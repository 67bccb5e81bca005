package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/toolexec/engine"
	"github.com/jonwraymond/toolexec/resilience"
)

// RegistryCheckerConfig configures the execution registry checker.
type RegistryCheckerConfig struct {
	// WarningThreshold is the live record count that triggers degraded
	// status. Default: 1000
	WarningThreshold int

	// CriticalThreshold is the live record count that triggers unhealthy
	// status. Default: 10000
	CriticalThreshold int
}

// RegistryChecker watches the execution registry for unbounded growth,
// which usually means terminal records are not being cleaned up.
type RegistryChecker struct {
	config RegistryCheckerConfig
	reg    *engine.Registry
}

// NewRegistryChecker creates a checker over the given registry.
func NewRegistryChecker(reg *engine.Registry, config RegistryCheckerConfig) *RegistryChecker {
	if config.WarningThreshold <= 0 {
		config.WarningThreshold = 1000
	}
	if config.CriticalThreshold <= config.WarningThreshold {
		config.CriticalThreshold = config.WarningThreshold * 10
	}

	return &RegistryChecker{config: config, reg: reg}
}

// Name returns the name of this checker.
func (c *RegistryChecker) Name() string {
	return "execution-registry"
}

// Check performs the registry health check.
func (c *RegistryChecker) Check(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err())
	default:
	}

	live := c.reg.Len()
	details := map[string]any{
		"live_records":       live,
		"warning_threshold":  c.config.WarningThreshold,
		"critical_threshold": c.config.CriticalThreshold,
	}

	switch {
	case live >= c.config.CriticalThreshold:
		return Unhealthy(
			fmt.Sprintf("live registry critical: %d records", live),
			ErrCheckFailed,
		).WithDetails(details)
	case live >= c.config.WarningThreshold:
		return Degraded(
			fmt.Sprintf("live registry growing: %d records", live),
		).WithDetails(details)
	default:
		return Healthy(
			fmt.Sprintf("registry normal: %d live records", live),
		).WithDetails(details)
	}
}

// BreakerChecker reports on the resilience layer's circuit breakers: any
// open breaker degrades the service; all breakers open means the
// downstream dependencies are effectively unreachable.
type BreakerChecker struct {
	exec *resilience.Executor
}

// NewBreakerChecker creates a checker over the given executor.
func NewBreakerChecker(exec *resilience.Executor) *BreakerChecker {
	return &BreakerChecker{exec: exec}
}

// Name returns the name of this checker.
func (c *BreakerChecker) Name() string {
	return "circuit-breakers"
}

// Check performs the breaker health check.
func (c *BreakerChecker) Check(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err())
	default:
	}

	states := c.exec.BreakerStates()

	open := 0
	byKey := make(map[string]any, len(states))
	for key, state := range states {
		byKey[key] = state.String()
		if state == resilience.StateOpen {
			open++
		}
	}

	details := map[string]any{
		"breakers": byKey,
		"open":     open,
		"total":    len(states),
	}

	switch {
	case len(states) == 0:
		return Healthy("no breakers registered").WithDetails(details)
	case open == len(states):
		return Unhealthy(
			fmt.Sprintf("all %d circuit breakers open", open),
			ErrCheckFailed,
		).WithDetails(details)
	case open > 0:
		return Degraded(
			fmt.Sprintf("%d of %d circuit breakers open", open, len(states)),
		).WithDetails(details)
	default:
		return Healthy(
			fmt.Sprintf("all %d circuit breakers closed or probing", len(states)),
		).WithDetails(details)
	}
}
