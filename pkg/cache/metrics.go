package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/docfeed/metric"
)

// cacheMetrics exports cache activity to Prometheus.
type cacheMetrics struct {
	operations *prometheus.CounterVec
	size       prometheus.Gauge
}

func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	m := &cacheMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "docfeed",
			Subsystem:   "cache",
			Name:        "operations_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Cache operations by kind (hit, miss, set, delete, eviction)",
		}, []string{"operation"}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "docfeed",
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of entries in cache",
		}),
	}

	if err := registry.RegisterCollector(prefix, "cache_operations", m.operations); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		registry.Unregister(prefix, "cache_operations")
		return nil, err
	}
	return m, nil
}

func (m *cacheMetrics) recordHit()      { m.operations.WithLabelValues("hit").Inc() }
func (m *cacheMetrics) recordMiss()     { m.operations.WithLabelValues("miss").Inc() }
func (m *cacheMetrics) recordSet()      { m.operations.WithLabelValues("set").Inc() }
func (m *cacheMetrics) recordDelete()   { m.operations.WithLabelValues("delete").Inc() }
func (m *cacheMetrics) recordEviction() { m.operations.WithLabelValues("eviction").Inc() }

func (m *cacheMetrics) updateSize(size int) {
	m.size.Set(float64(size))
}
