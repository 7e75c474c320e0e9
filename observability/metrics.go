package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "vaultledger"
	unknown   = "unknown"
)

// APIMetrics tracks HTTP traffic served by the vault API.
type APIMetrics struct {
	requests  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	inFlight  *prometheus.GaugeVec
	throttles *prometheus.CounterVec
}

var (
	apiOnce    sync.Once
	apiMetrics *APIMetrics
)

// Call latencies cluster below 50ms; batches with many items stretch the tail.
var latencyBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// ModuleMetrics returns the process-wide API registry, registering it with
// the default Prometheus registerer on first use.
func ModuleMetrics() *APIMetrics {
	apiOnce.Do(func() {
		m := &APIMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "API requests by module, route and outcome.",
			}, []string{"module", "route", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "API responses with status >= 400 by module, route and status.",
			}, []string{"module", "route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Handler latency.",
				Buckets:   latencyBuckets,
			}, []string{"module", "route"}),
			inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Requests currently being served.",
			}, []string{"module"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Requests rejected by throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(m.requests, m.failures, m.latency, m.inFlight, m.throttles)
		apiMetrics = m
	})
	return apiMetrics
}

func orUnknown(v string) string {
	if v == "" {
		return unknown
	}
	return v
}

func outcome(status int) string {
	if status >= 400 {
		return "error"
	}
	return "success"
}

// Begin marks a request as in flight. The returned func must be called once
// the handler returns.
func (m *APIMetrics) Begin(module string) func() {
	if m == nil {
		return func() {}
	}
	gauge := m.inFlight.WithLabelValues(orUnknown(module))
	gauge.Inc()
	return gauge.Dec
}

// Observe records the status written to the client and the handler latency.
func (m *APIMetrics) Observe(module, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	module, route = orUnknown(module), orUnknown(route)
	m.requests.WithLabelValues(module, route, outcome(status)).Inc()
	if status >= 400 {
		m.failures.WithLabelValues(module, route, strconv.Itoa(status)).Inc()
	}
	m.latency.WithLabelValues(module, route).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request. Reasons are stable strings such
// as "rate_limit".
func (m *APIMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(orUnknown(module), reason).Inc()
}

func (m *APIMetrics) Requests() *prometheus.CounterVec  { return m.requests }
func (m *APIMetrics) Throttles() *prometheus.CounterVec { return m.throttles }
func (m *APIMetrics) InFlight() *prometheus.GaugeVec    { return m.inFlight }
