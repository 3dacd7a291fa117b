package cache

import (
	"time"

	"github.com/c360/docfeed/metric"
)

// Option configures cache behavior using the functional options pattern.
type Option[V any] func(*cacheOptions[V])

type cacheOptions[V any] struct {
	ttl             time.Duration
	cleanupInterval time.Duration
	maxEntries      int

	metricsReg    *metric.MetricsRegistry
	metricsPrefix string

	evictCallback EvictCallback[V]
}

// WithTTL expires entries ttl after their last Set.
func WithTTL[V any](ttl time.Duration) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.ttl = ttl
	}
}

// WithCleanupInterval sets how often expired entries are swept. Ignored when
// interval is not positive.
func WithCleanupInterval[V any](interval time.Duration) Option[V] {
	return func(opts *cacheOptions[V]) {
		if interval > 0 {
			opts.cleanupInterval = interval
		}
	}
}

// WithMaxEntries bounds the cache; the least recently used entry is evicted
// when a new key would exceed n. Zero means unbounded.
func WithMaxEntries[V any](n int) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.maxEntries = n
	}
}

// WithMetrics enables Prometheus metrics export under the given component
// label. Ignored if registry is nil or prefix is empty.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback that is called after any entry leaves
// the cache.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{
		cleanupInterval: time.Minute,
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
