package metrics

import (
	"time"
)

// Collector receives observations from wizards, the upstream API client
// and the session store. Implementations export to Prometheus or keep
// counters in memory for tests.
type Collector interface {
	// Wizard flows
	RecordStep(flow string, step int, advanced bool)
	RecordSubmit(flow string, success bool, duration time.Duration)

	// Upstream API
	RecordAPICall(endpoint string, outcome string, duration time.Duration)
	RecordFallback(endpoint string, reason string)
	RecordCircuitState(name string, state CircuitState)

	// Session store tiers
	RecordStoreGet(tier string, hit bool, duration time.Duration)
	RecordStoreSet(tier string, success bool, duration time.Duration)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means calls are rejected without reaching upstream.
	CircuitOpen
	// CircuitHalfOpen means a limited number of probe calls are allowed.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector discards everything. It is the default when no
// collector is configured.
type NoOpCollector struct{}

func (NoOpCollector) RecordStep(flow string, step int, advanced bool)                      {}
func (NoOpCollector) RecordSubmit(flow string, success bool, duration time.Duration)       {}
func (NoOpCollector) RecordAPICall(endpoint string, outcome string, duration time.Duration) {}
func (NoOpCollector) RecordFallback(endpoint string, reason string)                         {}
func (NoOpCollector) RecordCircuitState(name string, state CircuitState)                   {}
func (NoOpCollector) RecordStoreGet(tier string, hit bool, duration time.Duration)         {}
func (NoOpCollector) RecordStoreSet(tier string, success bool, duration time.Duration)     {}

// OrNoOp returns c, or a NoOpCollector when c is nil.
func OrNoOp(c Collector) Collector {
	if c == nil {
		return NoOpCollector{}
	}
	return c
}
