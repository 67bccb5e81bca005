// Package observe provides observability primitives for the execution
// engine and the resilience layer.
//
// It is a pure instrumentation library: no execution, no transport, no I/O
// beyond exporter setup. Consumers wire the observer into the engine
// controller and retry executor at construction time.
package observe
