// Package health provides liveness checks for the execution engine and
// the resilience layer.
//
// Checkers report on the execution registry (unbounded growth of live
// records) and the circuit breaker population (open breakers mean
// degraded downstream dependencies). An Aggregator fans checks out
// concurrently and reduces them to a single worst-status result, exposed
// over plain HTTP probe handlers for ops tooling.
//
//	agg := health.NewAggregator(health.AggregatorConfig{})
//	agg.Register(health.NewRegistryChecker(ctrl.Registry(), health.RegistryCheckerConfig{}))
//	agg.Register(health.NewBreakerChecker(exec))
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg)
package health
