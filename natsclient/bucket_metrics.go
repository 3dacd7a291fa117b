package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/docfeed/metric"
)

// bucketMetrics exports the state of the document buckets this client opened
// and the updates their watchers delivered. A nil *bucketMetrics is valid and
// records nothing.
type bucketMetrics struct {
	values  *prometheus.GaugeVec   // documents per bucket, including history
	bytes   *prometheus.GaugeVec   // storage bytes per bucket
	up      *prometheus.GaugeVec   // 1 while the bucket answers status requests
	updates *prometheus.CounterVec // watcher updates by bucket and operation
	errors  *prometheus.CounterVec // failed bucket operations

	mu      sync.RWMutex
	buckets map[string]jetstream.KeyValue
}

func newBucketMetrics(registry *metric.MetricsRegistry) (*bucketMetrics, error) {
	m := &bucketMetrics{
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "docfeed",
			Subsystem: "bucket",
			Name:      "values",
			Help:      "Number of stored values in the bucket",
		}, []string{"bucket"}),
		bytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "docfeed",
			Subsystem: "bucket",
			Name:      "bytes",
			Help:      "Storage bytes used by the bucket",
		}, []string{"bucket"}),
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "docfeed",
			Subsystem: "bucket",
			Name:      "up",
			Help:      "Bucket availability (1=reachable, 0=unreachable)",
		}, []string{"bucket"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docfeed",
			Subsystem: "bucket",
			Name:      "watch_updates_total",
			Help:      "Updates delivered by bucket watchers",
		}, []string{"bucket", "operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docfeed",
			Subsystem: "bucket",
			Name:      "errors_total",
			Help:      "Failed bucket operations",
		}, []string{"operation"}),
		buckets: make(map[string]jetstream.KeyValue),
	}

	collectors := []struct {
		name string
		c    prometheus.Collector
	}{
		{"values", m.values},
		{"bytes", m.bytes},
		{"up", m.up},
		{"watch_updates", m.updates},
		{"errors", m.errors},
	}
	for _, c := range collectors {
		if err := registry.RegisterCollector("bucket", c.name, c.c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *bucketMetrics) track(kv jetstream.KeyValue) {
	if m == nil || kv == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[kv.Bucket()] = kv
	m.up.WithLabelValues(kv.Bucket()).Set(1)
}

func (m *bucketMetrics) untrack(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, name)
	m.values.DeleteLabelValues(name)
	m.bytes.DeleteLabelValues(name)
	m.up.DeleteLabelValues(name)
}

func (m *bucketMetrics) recordUpdate(bucket string, op jetstream.KeyValueOp) {
	if m != nil {
		m.updates.WithLabelValues(bucket, op.String()).Inc()
	}
}

func (m *bucketMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// updateStats refreshes the gauges of every tracked bucket. An unreachable
// bucket is marked down and skipped.
func (m *bucketMetrics) updateStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	buckets := make(map[string]jetstream.KeyValue, len(m.buckets))
	for name, kv := range m.buckets {
		buckets[name] = kv
	}
	m.mu.RUnlock()

	for name, kv := range buckets {
		status, err := kv.Status(ctx)
		if err != nil {
			m.up.WithLabelValues(name).Set(0)
			m.recordError("status")
			continue
		}
		m.values.WithLabelValues(name).Set(float64(status.Values()))
		m.bytes.WithLabelValues(name).Set(float64(status.Bytes()))
		m.up.WithLabelValues(name).Set(1)
	}
}

// startPoller refreshes the gauges every interval until the returned cancel
// function is called.
func (m *bucketMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	if m == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.updateStats(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	return cancel
}
