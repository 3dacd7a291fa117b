package querycache

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/feed"
	"github.com/c360/docfeed/metric"
	"github.com/c360/docfeed/pkg/cache"
	"github.com/c360/docfeed/registry"
	"github.com/c360/docfeed/resolve"
	"github.com/c360/docfeed/sink"
	"github.com/c360/docfeed/state"
	"github.com/c360/docfeed/watch"
)

// settledState is implemented by state.ItemState and state.CollectionState.
type settledState interface {
	resolve.Settler
	HasError() bool
}

type liveFeed[S any] interface {
	Feed() *feed.Feed[S]
	Close()
}

// opener opens a watch with the given options.
type opener[S any] func(opts ...watch.Option) liveFeed[S]

// entrySink builds the sink that writes states of one feed into the entry for key.
type entrySink[V, S any] func(w sink.CacheWriter[V], key string) sink.Sink[S]

// entryWriter inserts the entry once and afterwards only replaces it, so a feed
// whose entry was evicted cannot bring it back or push out another key.
type entryWriter[V any] struct {
	cache    cache.Cache[V]
	inserted atomic.Bool
}

func (w *entryWriter[V]) Set(key string, value V) (bool, error) {
	if w.inserted.CompareAndSwap(false, true) {
		return w.cache.Set(key, value)
	}
	return w.cache.Replace(key, value)
}

// binding is the cache, registry and load path shared by Items and Collections.
// V is the cached value, S the state of the feeds behind it.
type binding[V any, S settledState] struct {
	kind     string
	cache    cache.Cache[V]
	registry *registry.Registry
	group    singleflight.Group
	opts     Options
	metrics  *metric.Metrics
	logger   *slog.Logger
	reporter state.Reporter
	closed   atomic.Bool
}

func newBinding[V any, S settledState](ctx context.Context, kind string, o Options) (*binding[V, S], error) {
	b := &binding[V, S]{
		kind:    kind,
		opts:    o,
		metrics: o.Registry.CoreMetrics(),
		logger:  o.Logger.With("component", "querycache", "kind", kind),
	}
	b.reporter = o.Reporter
	if b.reporter == nil {
		b.reporter = metric.NewReporter(b.metrics, b.logger, kind)
	}
	b.registry = registry.New(registry.WithLogger(b.logger), registry.WithMetrics(b.metrics))

	cacheOpts := []cache.Option[V]{cache.WithEvictionCallback[V](b.evicted)}
	if o.Registry != nil && o.Prefix != "" {
		cacheOpts = append(cacheOpts, cache.WithMetrics[V](o.Registry, o.Prefix))
	}
	c, err := cache.NewFromConfig[V](ctx, o.Cache, cacheOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "querycache", "New", "create "+kind+" cache")
	}
	b.cache = c
	return b, nil
}

// evicted closes the feed behind a removed entry.
func (b *binding[V, S]) evicted(key string, _ V, reason cache.EvictReason) {
	b.logger.Debug("Cache entry removed", "key", key, "reason", reason.String())
	b.registry.NotifyRemoved(key)
}

func (b *binding[V, S]) fetch(ctx context.Context, key string, open opener[S],
	value func(S) V, entry entrySink[V, S]) (V, error) {

	var zero V
	if b.closed.Load() {
		return zero, errors.WrapFatal(errors.ErrFeedClosed, "querycache", "Fetch", "fetch "+key)
	}
	if key == "" {
		return zero, errors.WrapInvalid(errors.ErrInvalidData, "querycache", "Fetch", "key cannot be empty")
	}

	if v, ok := b.cache.Get(key); ok && b.registry.IsAlive(key) {
		return v, nil
	}

	// The load is shared by every caller of key, so no single caller's
	// cancellation may end it. resolve.First bounds it with opts.Timeout.
	loadCtx := context.WithoutCancel(ctx)
	ch := b.group.DoChan(key, func() (any, error) {
		return b.load(loadCtx, key, open, value, entry)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(V), nil
	case <-ctx.Done():
		return zero, errors.Wrap(ctx.Err(), "querycache", "Fetch", "fetch "+key)
	}
}

// load opens a feed for key, waits for its first settled state and keeps the
// cache entry in sync with the feed until the entry is removed or replaced, or
// the feed completes.
func (b *binding[V, S]) load(ctx context.Context, key string, open opener[S],
	value func(S) V, entry entrySink[V, S]) (V, error) {

	var zero V
	capture := &errorCapture{next: b.reporter}
	w := open(
		watch.WithListenOptions(b.opts.Listen),
		watch.WithLogger(b.logger),
		watch.WithMetrics(b.metrics),
		watch.WithReporter(capture),
	)

	st, err := resolve.First(ctx, w.Feed(), b.opts.Timeout, b.metrics)
	if err != nil {
		w.Close()
		return zero, errors.Wrap(err, "querycache", "Fetch", "load "+key)
	}
	if st.HasError() {
		w.Close()
		return zero, errors.Wrap(capture.Err(), "querycache", "Fetch", "load "+key)
	}

	syn := sink.Attach(w.Feed(), entry(&entryWriter[V]{cache: b.cache}, key))
	teardown := func() {
		syn.Detach()
		w.Close()
	}
	reg := b.registry.RegisterOnClose(key, teardown)
	b.logger.Debug("Live feed attached to cache entry", "key", key)

	// A completed feed no longer backs the entry: it turns stale and the next
	// Fetch loads it again. Done runs inside feed delivery, so the watch is
	// closed on another goroutine.
	w.Feed().Subscribe(feed.Observer[S]{Done: func(reason error) {
		if !stderrors.Is(reason, errors.ErrFeedCompleted) {
			return
		}
		reg.Release()
		b.logger.Debug("Feed completed, cache entry is stale", "key", key)
		go teardown()
	}})

	if b.closed.Load() {
		// Close ran while loading; the closed registry owns the teardown.
		return zero, errors.WrapFatal(errors.ErrFeedClosed, "querycache", "Fetch", "fetch "+key)
	}
	return value(st), nil
}

func (b *binding[V, S]) setFailed(key string, err error) {
	b.logger.Warn("Failed to write feed state to cache entry", "key", key, "error", err)
}

func (b *binding[V, S]) isStale(key string) bool {
	return !b.registry.IsAlive(key)
}

// invalidate removes the entry; the eviction callback closes its feed. A feed
// without an entry is closed directly.
func (b *binding[V, S]) invalidate(key string) bool {
	removed, err := b.cache.Delete(key)
	if err != nil {
		return false
	}
	if !removed && b.registry.IsAlive(key) {
		return b.registry.NotifyRemoved(key)
	}
	return removed
}

func (b *binding[V, S]) close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := b.cache.Clear()
	b.registry.Close()
	if cerr := b.cache.Close(); err == nil {
		err = cerr
	}
	return err
}

// errorCapture remembers the latest feed error and forwards it.
type errorCapture struct {
	mu   sync.Mutex
	err  error
	next state.Reporter
}

func (c *errorCapture) Report(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	if c.next != nil {
		c.next.Report(err)
	}
}

func (c *errorCapture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return errors.ErrInvalidData
	}
	return c.err
}
