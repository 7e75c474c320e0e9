package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"vaultledger/core/types"
)

type eventMetrics struct {
	events *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed ledger events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.events)
	})
	return eventRegistry
}

// Record increments the counter for every event in evs.
func (m *eventMetrics) Record(evs []types.Event) {
	if m == nil {
		return
	}
	for _, ev := range evs {
		kind := strings.TrimSpace(ev.Type)
		if kind == "" {
			kind = "unknown"
		}
		m.events.WithLabelValues(kind).Inc()
	}
}

// Counter exposes the underlying counter for tests.
func (m *eventMetrics) Counter() *prometheus.CounterVec { return m.events }
