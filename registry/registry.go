// Package registry coordinates teardown of feeds that share a cache key.
//
// The newest registration for a key wins: registering a second teardown for a key
// closes the feed of the first one. Eviction signals from the owning cache are
// routed to NotifyRemoved, which closes and forgets the current feed. A Registry
// belongs to one cache instance and is created and closed together with it.
package registry

import (
	"log/slog"
	"sync"

	"github.com/c360/docfeed/metric"
)

// Registry maps cache keys to feed teardowns. All methods are safe for concurrent
// use; teardowns run outside the registry lock, so a teardown may call back into
// the Registry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	logger  *slog.Logger
	metrics *metric.Metrics
}

type entry struct {
	teardown func()
	once     sync.Once
}

func (e *entry) run() {
	e.once.Do(e.teardown)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records registry size and anomalies on m.
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registration is the handle returned by RegisterOnClose.
type Registration struct {
	r   *Registry
	key string
	e   *entry
}

// Release forgets the registration without running its teardown. It does nothing
// if a newer registration replaced this one or the key was already removed.
func (reg *Registration) Release() {
	if reg == nil || reg.r == nil {
		return
	}
	r := reg.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[reg.key]; ok && cur == reg.e {
		delete(r.entries, reg.key)
		r.metrics.RecordRegistrySize(len(r.entries))
	}
}

// RegisterOnClose stores teardown for key. A teardown already registered for key
// is invoked before RegisterOnClose returns. Each teardown runs at most once.
// Registering on a closed Registry runs teardown immediately.
func (r *Registry) RegisterOnClose(key string, teardown func()) *Registration {
	e := &entry{teardown: teardown}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Debug("Registry closed, tearing down new registration", "key", key)
		e.run()
		return &Registration{}
	}
	prev := r.entries[key]
	r.entries[key] = e
	size := len(r.entries)
	r.mu.Unlock()

	r.metrics.RecordRegistrySize(size)
	if prev != nil {
		r.logger.Debug("Replacing registration, closing previous feed", "key", key)
		prev.run()
	}
	return &Registration{r: r, key: key, e: e}
}

// IsAlive reports whether a teardown is registered for key.
func (r *Registry) IsAlive(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// NotifyRemoved runs and forgets the teardown for key. It is meant to be wired to
// the cache's eviction callback. An unknown key is logged as an anomaly and
// reported as false.
func (r *Registry) NotifyRemoved(key string) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	size := len(r.entries)
	r.mu.Unlock()

	if !ok {
		r.metrics.RecordRegistryAnomaly()
		r.logger.Warn("Eviction notified for key without registered teardown", "key", key)
		return false
	}

	r.metrics.RecordRegistrySize(size)
	e.run()
	return true
}

// Len returns the number of registered keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close runs every registered teardown and rejects later registrations by
// tearing them down immediately. Close is idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	r.metrics.RecordRegistrySize(0)
	for _, e := range entries {
		e.run()
	}
}
