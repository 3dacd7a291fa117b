package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docfeed"

// Metrics contains the feed-level collectors. All Record methods are safe to call
// on a nil *Metrics, so components can treat metrics as optional.
type Metrics struct {
	WatchesActive     *prometheus.GaugeVec
	Subscriptions     *prometheus.CounterVec
	StatesEmitted     *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	ResolveOutcomes   *prometheus.CounterVec
	ResolveDuration   prometheus.Histogram
	RegistryEntries   prometheus.Gauge
	RegistryAnomalies prometheus.Counter
}

// NewMetrics creates the feed collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		WatchesActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "watch",
				Name:      "active",
				Help:      "Number of open watches",
			},
			[]string{"kind"},
		),

		Subscriptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "watch",
				Name:      "subscriptions_total",
				Help:      "Total number of upstream subscriptions opened",
			},
			[]string{"kind"},
		),

		StatesEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "watch",
				Name:      "states_total",
				Help:      "Total number of states emitted by watches",
			},
			[]string{"kind", "status"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "watch",
				Name:      "errors_total",
				Help:      "Total number of feed errors (transport or decode)",
			},
			[]string{"kind", "error_kind"},
		),

		ResolveOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolve",
				Name:      "total",
				Help:      "One-shot resolutions by outcome (resolved, timeout, completed, closed, cancelled)",
			},
			[]string{"outcome"},
		),

		ResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "resolve",
				Name:      "duration_seconds",
				Help:      "Time until a one-shot resolution settled or gave up",
				Buckets:   prometheus.DefBuckets,
			},
		),

		RegistryEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "entries",
				Help:      "Number of keys with a registered teardown",
			},
		),

		RegistryAnomalies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "anomalies_total",
				Help:      "Evictions notified for keys without a registered teardown",
			},
		),
	}
}

// RecordWatchOpened tracks a new upstream subscription.
func (m *Metrics) RecordWatchOpened(kind string) {
	if m == nil {
		return
	}
	m.WatchesActive.WithLabelValues(kind).Inc()
	m.Subscriptions.WithLabelValues(kind).Inc()
}

// RecordWatchClosed tracks a released upstream subscription.
func (m *Metrics) RecordWatchClosed(kind string) {
	if m == nil {
		return
	}
	m.WatchesActive.WithLabelValues(kind).Dec()
}

// RecordState counts an emitted state.
func (m *Metrics) RecordState(kind, status string) {
	if m == nil {
		return
	}
	m.StatesEmitted.WithLabelValues(kind, status).Inc()
}

// RecordError counts a feed error by kind ("transport", "decode").
func (m *Metrics) RecordError(kind, errorKind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind, errorKind).Inc()
}

// RecordResolve records how a one-shot resolution ended.
func (m *Metrics) RecordResolve(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ResolveOutcomes.WithLabelValues(outcome).Inc()
	m.ResolveDuration.Observe(duration.Seconds())
}

// RecordRegistrySize updates the number of registered teardowns.
func (m *Metrics) RecordRegistrySize(n int) {
	if m == nil {
		return
	}
	m.RegistryEntries.Set(float64(n))
}

// RecordRegistryAnomaly counts an eviction for an unregistered key.
func (m *Metrics) RecordRegistryAnomaly() {
	if m == nil {
		return
	}
	m.RegistryAnomalies.Inc()
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.WatchesActive,
		m.Subscriptions,
		m.StatesEmitted,
		m.ErrorsTotal,
		m.ResolveOutcomes,
		m.ResolveDuration,
		m.RegistryEntries,
		m.RegistryAnomalies,
	}
}
