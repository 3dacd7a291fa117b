package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/docfeed/metric"
)

// bufferMetrics holds Prometheus metrics for buffer operations.
type bufferMetrics struct {
	writes prometheus.Counter
	drops  prometheus.Counter
	size   prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	m := &bufferMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "docfeed",
			Subsystem:   "buffer",
			Name:        "writes_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of buffer write operations",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "docfeed",
			Subsystem:   "buffer",
			Name:        "drops_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of items dropped due to overflow",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "docfeed",
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of items in buffer",
		}),
	}

	if err := registry.RegisterCounter(prefix, "buffer_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_drops", m.drops); err != nil {
		registry.Unregister(prefix, "buffer_writes")
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		registry.Unregister(prefix, "buffer_writes")
		registry.Unregister(prefix, "buffer_drops")
		return nil, err
	}
	return m, nil
}

// unregister removes the collectors so the prefix can be reused.
func (m *bufferMetrics) unregister(registry *metric.MetricsRegistry, prefix string) {
	registry.Unregister(prefix, "buffer_writes")
	registry.Unregister(prefix, "buffer_drops")
	registry.Unregister(prefix, "buffer_size")
}

func (m *bufferMetrics) recordWrite(size int) {
	if m == nil {
		return
	}
	m.writes.Inc()
	m.size.Set(float64(size))
}

func (m *bufferMetrics) recordDrop() {
	if m == nil {
		return
	}
	m.drops.Inc()
}

func (m *bufferMetrics) updateSize(size int) {
	if m == nil {
		return
	}
	m.size.Set(float64(size))
}
