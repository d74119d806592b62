package prometheus

import (
	"strconv"
	"time"

	"bankflow/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements metrics.Collector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Wizards
	steps         *prometheus.CounterVec
	submits       *prometheus.CounterVec
	submitLatency *prometheus.HistogramVec

	// Upstream API
	apiCalls     *prometheus.CounterVec
	apiLatency   *prometheus.HistogramVec
	fallbacks    *prometheus.CounterVec
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Session store
	storeHits    *prometheus.CounterVec
	storeMisses  *prometheus.CounterVec
	storeSets    *prometheus.CounterVec
	storeErrors  *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec
}

// NewPrometheusCollector creates a collector whose metric names are
// prefixed with namespace.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	latencyBuckets := prometheus.ExponentialBuckets(0.0005, 2, 14) // 0.5ms to ~4s

	return &PrometheusCollector{
		namespace: namespace,
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wizard_steps_total",
				Help:      "Step transition attempts per flow, step and result",
			},
			[]string{"flow", "step", "result"},
		),
		submits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wizard_submissions_total",
				Help:      "Terminal step submissions per flow and result",
			},
			[]string{"flow", "result"},
		),
		submitLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "wizard_submit_duration_seconds",
				Help:      "Wizard submission latency",
				Buckets:   latencyBuckets,
			},
			[]string{"flow"},
		),
		apiCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_calls_total",
				Help:      "Upstream API calls per endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		apiLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_call_duration_seconds",
				Help:      "Upstream API call latency",
				Buckets:   latencyBuckets,
			},
			[]string{"endpoint"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_fallbacks_total",
				Help:      "Responses substituted with sample data, by endpoint and cause",
			},
			[]string{"endpoint", "reason"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Circuit breaker transitions to open",
			},
			[]string{"breaker"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),
		storeHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_store_hits_total",
				Help:      "Session store hits per tier",
			},
			[]string{"tier"},
		),
		storeMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_store_misses_total",
				Help:      "Session store misses per tier",
			},
			[]string{"tier"},
		),
		storeSets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_store_sets_total",
				Help:      "Session store writes per tier",
			},
			[]string{"tier"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_store_errors_total",
				Help:      "Failed session store writes per tier",
			},
			[]string{"tier"},
		),
		storeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_store_duration_seconds",
				Help:      "Session store operation latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"tier", "operation"},
		),
	}
}

func (pc *PrometheusCollector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		pc.steps,
		pc.submits,
		pc.submitLatency,
		pc.apiCalls,
		pc.apiLatency,
		pc.fallbacks,
		pc.circuitOpens,
		pc.circuitState,
		pc.storeHits,
		pc.storeMisses,
		pc.storeSets,
		pc.storeErrors,
		pc.storeLatency,
	}
}

// Register registers all metrics with registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	for _, c := range pc.collectors() {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Describe implements prometheus.Collector so the whole set can be
// registered with MustRegister in one call.
func (pc *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range pc.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (pc *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, c := range pc.collectors() {
		c.Collect(ch)
	}
}

// RecordStep records a step transition attempt.
func (pc *PrometheusCollector) RecordStep(flow string, step int, advanced bool) {
	result := "blocked"
	if advanced {
		result = "advanced"
	}
	pc.steps.WithLabelValues(flow, strconv.Itoa(step), result).Inc()
}

// RecordSubmit records a terminal submission.
func (pc *PrometheusCollector) RecordSubmit(flow string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "error"
	}
	pc.submits.WithLabelValues(flow, result).Inc()
	pc.submitLatency.WithLabelValues(flow).Observe(duration.Seconds())
}

// RecordAPICall records one upstream call.
func (pc *PrometheusCollector) RecordAPICall(endpoint string, outcome string, duration time.Duration) {
	pc.apiCalls.WithLabelValues(endpoint, outcome).Inc()
	pc.apiLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordFallback records a sample data substitution.
func (pc *PrometheusCollector) RecordFallback(endpoint string, reason string) {
	pc.fallbacks.WithLabelValues(endpoint, reason).Inc()
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(name).Inc()
	}
}

// RecordStoreGet records a session store read.
func (pc *PrometheusCollector) RecordStoreGet(tier string, hit bool, duration time.Duration) {
	if hit {
		pc.storeHits.WithLabelValues(tier).Inc()
	} else {
		pc.storeMisses.WithLabelValues(tier).Inc()
	}
	pc.storeLatency.WithLabelValues(tier, "get").Observe(duration.Seconds())
}

// RecordStoreSet records a session store write.
func (pc *PrometheusCollector) RecordStoreSet(tier string, success bool, duration time.Duration) {
	pc.storeSets.WithLabelValues(tier).Inc()
	if !success {
		pc.storeErrors.WithLabelValues(tier).Inc()
	}
	pc.storeLatency.WithLabelValues(tier, "set").Observe(duration.Seconds())
}
