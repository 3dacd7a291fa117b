package stream

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/docfeed/metric"
)

const metricsComponent = "stream"

// streamMetrics holds the websocket server metrics. A nil value records nothing.
type streamMetrics struct {
	clients  prometheus.Gauge
	messages prometheus.Counter
	drops    prometheus.Counter
	rejected *prometheus.CounterVec
}

func newStreamMetrics(registry *metric.MetricsRegistry) (*streamMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &streamMetrics{
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "docfeed",
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Number of currently connected websocket clients",
		}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docfeed",
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "Total feed states sent to websocket clients",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docfeed",
			Subsystem: "stream",
			Name:      "drops_total",
			Help:      "Feed states dropped because a client fell behind",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docfeed",
			Subsystem: "stream",
			Name:      "rejected_total",
			Help:      "Subscription requests refused before the upgrade",
		}, []string{"reason"}),
	}

	registered := make([]string, 0, 4)
	for name, c := range map[string]prometheus.Collector{
		"clients":  m.clients,
		"messages": m.messages,
		"drops":    m.drops,
		"rejected": m.rejected,
	} {
		if err := registry.RegisterCollector(metricsComponent, name, c); err != nil {
			for _, done := range registered {
				registry.Unregister(metricsComponent, done)
			}
			return nil, err
		}
		registered = append(registered, name)
	}
	return m, nil
}

func (m *streamMetrics) unregister(registry *metric.MetricsRegistry) {
	if m == nil || registry == nil {
		return
	}
	for _, name := range []string{"clients", "messages", "drops", "rejected"} {
		registry.Unregister(metricsComponent, name)
	}
}

func (m *streamMetrics) setClients(n int) {
	if m != nil {
		m.clients.Set(float64(n))
	}
}

func (m *streamMetrics) sent() {
	if m != nil {
		m.messages.Inc()
	}
}

func (m *streamMetrics) dropped() {
	if m != nil {
		m.drops.Inc()
	}
}

func (m *streamMetrics) reject(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}
