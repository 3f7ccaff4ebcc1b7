package offlinecache

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "offline_cache"

// Metrics counts what the worker does. A nil *Metrics records nothing.
type Metrics struct {
	fetches   *prometheus.CounterVec
	events    *prometheus.CounterVec
	evictions prometheus.Counter
	precache  prometheus.Counter
}

// NewMetrics registers the worker collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetches_total",
			Help:      "Intercepted requests by route and response source.",
		}, []string{"route", "source"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle events handled by the worker.",
		}, []string{"event"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stale_partitions_deleted_total",
			Help:      "Partitions deleted on activation because their version is stale.",
		}),
		precache: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "precache_failures_total",
			Help:      "Installs whose static pre-cache failed.",
		}),
	}

	for _, c := range []prometheus.Collector{m.fetches, m.events, m.evictions, m.precache} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) fetch(route string, source Source) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(route, string(source)).Inc()
}

func (m *Metrics) lifecycle(t EventType) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) evicted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.Add(float64(n))
}

func (m *Metrics) precacheFailed() {
	if m == nil {
		return
	}
	m.precache.Inc()
}
