// Package cache provides the generic, thread-safe request cache that live feeds
// write into.
//
// A cache can bound its size (least recently used entries are evicted first)
// and expire entries after a TTL. Every removal, whether explicit, by expiry,
// by capacity or by Clear, is reported to the eviction callback together with
// its reason, outside the cache lock. The callback is the hook used to tear
// down the live feed that backs an entry.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/c360/docfeed/errors"
)

// Cache represents a generic cache interface. The cache is parameterized by value
// type V for type safety.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found, zero value and false otherwise.
	Get(key string) (V, bool)

	// Set stores a value with the given key. Returns true if a new entry was created, false if updated.
	Set(key string, value V) (bool, error)

	// Replace updates an existing entry and reports whether it was present. It
	// never inserts, so it never evicts.
	Replace(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed and was deleted.
	Delete(key string) (bool, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries in the cache.
	Size() int

	// Keys returns the keys of all live entries.
	Keys() []string

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close stops background expiry. Entries stay readable.
	Close() error
}

// EvictReason tells the eviction callback why an entry left the cache.
type EvictReason int

const (
	// EvictDeleted means Delete was called.
	EvictDeleted EvictReason = iota
	// EvictExpired means the entry outlived its TTL.
	EvictExpired
	// EvictCapacity means the entry was the least recently used one of a full cache.
	EvictCapacity
	// EvictCleared means Clear was called.
	EvictCleared
)

// String returns the string representation of EvictReason
func (r EvictReason) String() string {
	switch r {
	case EvictDeleted:
		return "deleted"
	case EvictExpired:
		return "expired"
	case EvictCapacity:
		return "capacity"
	case EvictCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// EvictCallback is called after an entry left the cache.
type EvictCallback[V any] func(key string, value V, reason EvictReason)

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time // zero means no expiration
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type eviction[V any] struct {
	key    string
	value  V
	reason EvictReason
}

// requestCache keeps entries in recency order, most recent at the front.
type requestCache[V any] struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List
	opts    *cacheOptions[V]
	stats   *Statistics
	metrics *cacheMetrics

	shutdown  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache. With a TTL, a background goroutine removes expired
// entries until ctx is cancelled or Close is called.
func New[V any](ctx context.Context, options ...Option[V]) (Cache[V], error) {
	opts := applyOptions(options...)
	if opts.ttl < 0 || opts.maxEntries < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "New", "negative ttl or size")
	}

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "New", "metrics registration")
		}
	}

	c := &requestCache[V]{
		items:    make(map[string]*list.Element),
		order:    list.New(),
		opts:     opts,
		stats:    NewStatistics(),
		metrics:  metrics,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.stats.SetMaxSize(int64(opts.maxEntries))

	if opts.ttl > 0 {
		go c.cleanup(ctx)
	} else {
		close(c.done)
	}
	return c, nil
}

// Get retrieves a value by key. An expired entry is removed and reported as a miss.
func (c *requestCache[V]) Get(key string) (V, bool) {
	var zero V
	now := time.Now()

	c.mu.Lock()
	elem, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.recordMiss()
		return zero, false
	}
	e := elem.Value.(*entry[V])
	if e.expired(now) {
		c.removeLocked(elem)
		size := len(c.items)
		c.mu.Unlock()

		c.recordMiss()
		c.evicted(size, eviction[V]{key: e.key, value: e.value, reason: EvictExpired})
		return zero, false
	}
	c.order.MoveToFront(elem)
	value := e.value
	c.mu.Unlock()

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return value, true
}

// Set stores a value and refreshes its TTL. A full cache evicts its least
// recently used entry.
func (c *requestCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var expiresAt time.Time
	if c.opts.ttl > 0 {
		expiresAt = time.Now().Add(c.opts.ttl)
	}

	var evicted []eviction[V]
	c.mu.Lock()
	elem, exists := c.items[key]
	if exists {
		e := elem.Value.(*entry[V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(elem)
	} else {
		c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
		for c.opts.maxEntries > 0 && len(c.items) > c.opts.maxEntries {
			oldest := c.order.Back()
			e := oldest.Value.(*entry[V])
			c.removeLocked(oldest)
			evicted = append(evicted, eviction[V]{key: e.key, value: e.value, reason: EvictCapacity})
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	c.stats.Set()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(size)
	}
	c.evicted(size, evicted...)

	return !exists, nil
}

// Replace updates the value of a present entry and refreshes its TTL.
func (c *requestCache[V]) Replace(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var expiresAt time.Time
	if c.opts.ttl > 0 {
		expiresAt = time.Now().Add(c.opts.ttl)
	}

	c.mu.Lock()
	elem, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return false, nil
	}
	e := elem.Value.(*entry[V])
	e.value = value
	e.expiresAt = expiresAt
	c.order.MoveToFront(elem)
	c.mu.Unlock()

	c.stats.Set()
	if c.metrics != nil {
		c.metrics.recordSet()
	}
	return true, nil
}

// Delete removes an entry by key.
func (c *requestCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	elem, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return false, nil
	}
	e := elem.Value.(*entry[V])
	c.removeLocked(elem)
	size := len(c.items)
	c.mu.Unlock()

	c.stats.Delete()
	if c.metrics != nil {
		c.metrics.recordDelete()
	}
	c.notify(size, eviction[V]{key: e.key, value: e.value, reason: EvictDeleted})
	return true, nil
}

// Clear removes all entries, reporting each to the eviction callback.
func (c *requestCache[V]) Clear() error {
	c.mu.Lock()
	removed := make([]eviction[V], 0, len(c.items))
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*entry[V])
		removed = append(removed, eviction[V]{key: e.key, value: e.value, reason: EvictCleared})
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	c.notify(0, removed...)
	return nil
}

// Size returns the current number of entries, including expired ones not yet
// cleaned up.
func (c *requestCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the keys of unexpired entries, most recently used first.
func (c *requestCache[V]) Keys() []string {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		if e := elem.Value.(*entry[V]); !e.expired(now) {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Stats returns cache statistics.
func (c *requestCache[V]) Stats() *Statistics {
	return c.stats
}

// Close stops the expiry goroutine and waits for it to exit.
func (c *requestCache[V]) Close() error {
	c.closeOnce.Do(func() { close(c.shutdown) })

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "cache", "Close", "wait for cleanup goroutine")
	}
}

func (c *requestCache[V]) cleanup(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.opts.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *requestCache[V]) removeExpired() {
	now := time.Now()
	var expired []eviction[V]

	c.mu.Lock()
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if e := elem.Value.(*entry[V]); e.expired(now) {
			c.removeLocked(elem)
			expired = append(expired, eviction[V]{key: e.key, value: e.value, reason: EvictExpired})
		}
		elem = prev
	}
	size := len(c.items)
	c.mu.Unlock()

	c.evicted(size, expired...)
}

func (c *requestCache[V]) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry[V])
	delete(c.items, e.key)
	c.order.Remove(elem)
}

func (c *requestCache[V]) recordMiss() {
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.recordMiss()
	}
}

// evicted counts automatic removals and notifies the callback.
func (c *requestCache[V]) evicted(size int, removed ...eviction[V]) {
	for range removed {
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
	}
	c.notify(size, removed...)
}

// notify must be called without c.mu held.
func (c *requestCache[V]) notify(size int, removed ...eviction[V]) {
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.updateSize(size)
	}
	if c.opts.evictCallback == nil {
		return
	}
	for _, ev := range removed {
		c.opts.evictCallback(ev.key, ev.value, ev.reason)
	}
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
