package memory

import (
	"sync"
	"time"

	"bankflow/pkg/metrics"
)

// MemoryCollector implements metrics.Collector in memory for tests and
// the portal's JSON metrics endpoint.
type MemoryCollector struct {
	mu sync.RWMutex

	flows     map[string]*FlowMetrics
	endpoints map[string]*EndpointMetrics
	tiers     map[string]*TierMetrics
	circuits  map[string]metrics.CircuitState
}

// FlowMetrics holds counters for one wizard flow.
type FlowMetrics struct {
	Advanced        int64
	Blocked         int64
	BlockedByStep   map[int]int64
	Submissions     int64
	FailedSubmits   int64
	SubmitLatencies []time.Duration
}

// EndpointMetrics holds counters for one upstream endpoint.
type EndpointMetrics struct {
	Calls             int64
	CallsByOutcome    map[string]int64
	Fallbacks         int64
	FallbacksByReason map[string]int64
	Latencies         []time.Duration
}

// TierMetrics holds counters for one session store tier.
type TierMetrics struct {
	Hits      int64
	Misses    int64
	Sets      int64
	SetErrors int64
}

// NewMemoryCollector creates an empty collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		flows:     make(map[string]*FlowMetrics),
		endpoints: make(map[string]*EndpointMetrics),
		tiers:     make(map[string]*TierMetrics),
		circuits:  make(map[string]metrics.CircuitState),
	}
}

// flow and the helpers below expect mc.mu to be held.
func (mc *MemoryCollector) flow(name string) *FlowMetrics {
	fm, ok := mc.flows[name]
	if !ok {
		fm = &FlowMetrics{BlockedByStep: make(map[int]int64)}
		mc.flows[name] = fm
	}
	return fm
}

func (mc *MemoryCollector) endpoint(name string) *EndpointMetrics {
	em, ok := mc.endpoints[name]
	if !ok {
		em = &EndpointMetrics{
			CallsByOutcome:    make(map[string]int64),
			FallbacksByReason: make(map[string]int64),
		}
		mc.endpoints[name] = em
	}
	return em
}

func (mc *MemoryCollector) tier(name string) *TierMetrics {
	tm, ok := mc.tiers[name]
	if !ok {
		tm = &TierMetrics{}
		mc.tiers[name] = tm
	}
	return tm
}

// RecordStep records a step transition attempt.
func (mc *MemoryCollector) RecordStep(flow string, step int, advanced bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	fm := mc.flow(flow)
	if advanced {
		fm.Advanced++
		return
	}
	fm.Blocked++
	fm.BlockedByStep[step]++
}

// RecordSubmit records a terminal submission.
func (mc *MemoryCollector) RecordSubmit(flow string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	fm := mc.flow(flow)
	fm.Submissions++
	if !success {
		fm.FailedSubmits++
	}
	fm.SubmitLatencies = append(fm.SubmitLatencies, duration)
}

// RecordAPICall records one upstream call.
func (mc *MemoryCollector) RecordAPICall(endpoint string, outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	em := mc.endpoint(endpoint)
	em.Calls++
	em.CallsByOutcome[outcome]++
	em.Latencies = append(em.Latencies, duration)
}

// RecordFallback records a sample data substitution.
func (mc *MemoryCollector) RecordFallback(endpoint string, reason string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	em := mc.endpoint(endpoint)
	em.Fallbacks++
	em.FallbacksByReason[reason]++
}

// RecordCircuitState records the latest breaker state.
func (mc *MemoryCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.circuits[name] = state
}

// RecordStoreGet records a session store read.
func (mc *MemoryCollector) RecordStoreGet(tier string, hit bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	tm := mc.tier(tier)
	if hit {
		tm.Hits++
	} else {
		tm.Misses++
	}
}

// RecordStoreSet records a session store write.
func (mc *MemoryCollector) RecordStoreSet(tier string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	tm := mc.tier(tier)
	tm.Sets++
	if !success {
		tm.SetErrors++
	}
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Flows     map[string]FlowMetrics          `json:"flows"`
	Endpoints map[string]EndpointMetrics      `json:"endpoints"`
	Tiers     map[string]TierMetrics          `json:"tiers"`
	Circuits  map[string]metrics.CircuitState `json:"circuits"`
}

// Snapshot returns a copy of the current state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snap := Snapshot{
		Flows:     make(map[string]FlowMetrics, len(mc.flows)),
		Endpoints: make(map[string]EndpointMetrics, len(mc.endpoints)),
		Tiers:     make(map[string]TierMetrics, len(mc.tiers)),
		Circuits:  make(map[string]metrics.CircuitState, len(mc.circuits)),
	}
	for k, v := range mc.flows {
		cp := *v
		cp.BlockedByStep = make(map[int]int64, len(v.BlockedByStep))
		for s, n := range v.BlockedByStep {
			cp.BlockedByStep[s] = n
		}
		cp.SubmitLatencies = append([]time.Duration(nil), v.SubmitLatencies...)
		snap.Flows[k] = cp
	}
	for k, v := range mc.endpoints {
		cp := *v
		cp.CallsByOutcome = make(map[string]int64, len(v.CallsByOutcome))
		for o, n := range v.CallsByOutcome {
			cp.CallsByOutcome[o] = n
		}
		cp.FallbacksByReason = make(map[string]int64, len(v.FallbacksByReason))
		for r, n := range v.FallbacksByReason {
			cp.FallbacksByReason[r] = n
		}
		cp.Latencies = append([]time.Duration(nil), v.Latencies...)
		snap.Endpoints[k] = cp
	}
	for k, v := range mc.tiers {
		snap.Tiers[k] = *v
	}
	for k, v := range mc.circuits {
		snap.Circuits[k] = v
	}
	return snap
}

// Flow returns a copy of one flow's counters, or nil.
func (mc *MemoryCollector) Flow(name string) *FlowMetrics {
	snap := mc.Snapshot()
	if fm, ok := snap.Flows[name]; ok {
		return &fm
	}
	return nil
}

// Endpoint returns a copy of one endpoint's counters, or nil.
func (mc *MemoryCollector) Endpoint(name string) *EndpointMetrics {
	snap := mc.Snapshot()
	if em, ok := snap.Endpoints[name]; ok {
		return &em
	}
	return nil
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.flows = make(map[string]*FlowMetrics)
	mc.endpoints = make(map[string]*EndpointMetrics)
	mc.tiers = make(map[string]*TierMetrics)
	mc.circuits = make(map[string]metrics.CircuitState)
}
