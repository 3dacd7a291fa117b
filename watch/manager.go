// Package watch keeps exactly one upstream subscription open for the latest key of
// a feed.
//
// A Manager owns the subscription for one logical watch. Every SetKey compares the
// new key with the current one (== for document refs, Source.QueriesEqual for
// queries); only a real change tears down the old subscription and opens a new
// one, announcing Loading (or Disabled for a nil key) before any data of the new
// key. Events from superseded subscriptions are dropped.
//
// States are delivered synchronously while the watch holds its event lock.
// Listener callbacks and feed observers must therefore not call SetKey or Close
// on the same Manager from inside a callback; hand the work to another goroutine.
package watch

import (
	"log/slog"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/docfeed/feed"
	"github.com/c360/docfeed/metric"
	"github.com/c360/docfeed/source"
	"github.com/c360/docfeed/state"
)

// Manager maintains the subscription of one watch. K is the key type, R the raw
// snapshot type and S the state type.
type Manager[K, R, S any] struct {
	id   string
	kind string

	keyMu sync.Mutex // serialises SetKey and Close

	mu       sync.Mutex // guards the fields below and event delivery
	key      K
	hasKey   bool
	gen      uint64
	teardown func()
	closed   bool
	finished bool

	equal     func(a, b K) bool
	subscribe func(K, source.Observer[R]) source.Unsubscribe
	machine   *state.Machine[R, S]
	loading   S
	disabled  S
	status    func(S) state.Status
	feed      *feed.Feed[S]

	logger  *slog.Logger
	metrics *metric.Metrics
}

type config[K, R, S any] struct {
	kind      string
	equal     func(a, b K) bool
	subscribe func(K, source.Observer[R]) source.Unsubscribe
	machine   *state.Machine[R, S]
	loading   S
	disabled  S
	status    func(S) state.Status
}

func newManager[K, R, S any](cfg config[K, R, S], key K, o Options) *Manager[K, R, S] {
	m := &Manager[K, R, S]{
		id:        uuid.NewString(),
		kind:      cfg.kind,
		equal:     cfg.equal,
		subscribe: cfg.subscribe,
		machine:   cfg.machine,
		loading:   cfg.loading,
		disabled:  cfg.disabled,
		status:    cfg.status,
		logger:    o.Logger,
		metrics:   o.Metrics,
	}
	m.logger = m.logger.With("watch_id", m.id, "kind", m.kind)

	initial := m.loading
	if isNil(key) {
		initial = m.disabled
	}
	m.feed = feed.New(initial)
	m.metrics.RecordState(m.kind, m.status(initial).String())

	m.keyMu.Lock()
	defer m.keyMu.Unlock()
	m.open(key, false)
	return m
}

// ID returns the watch identifier used in logs.
func (m *Manager[K, R, S]) ID() string { return m.id }

// Feed returns the state feed. Its current value is always the latest state.
func (m *Manager[K, R, S]) Feed() *feed.Feed[S] { return m.feed }

// State returns the latest state.
func (m *Manager[K, R, S]) State() S { return m.feed.Value() }

// Key returns the current key and whether it is set.
func (m *Manager[K, R, S]) Key() (K, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key, m.hasKey
}

// SetKey points the watch at key. A key equal to the current one is a no-op: the
// subscription and the current state are kept. Otherwise the old subscription is
// released first, then Disabled (nil key) or Loading is emitted and a new
// subscription is opened. SetKey on a closed or finished watch does nothing.
func (m *Manager[K, R, S]) SetKey(key K) {
	m.keyMu.Lock()
	defer m.keyMu.Unlock()

	m.mu.Lock()
	if m.closed || m.finished {
		m.mu.Unlock()
		return
	}
	nilKey := isNil(key)
	if !nilKey && m.hasKey && m.equal(m.key, key) {
		m.mu.Unlock()
		return
	}
	if nilKey && !m.hasKey {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.open(key, true)
}

// open must be called with keyMu held.
func (m *Manager[K, R, S]) open(key K, announce bool) {
	nilKey := isNil(key)

	m.mu.Lock()
	m.gen++
	gen := m.gen
	old := m.teardown
	m.teardown = nil
	m.key, m.hasKey = key, !nilKey
	m.mu.Unlock()

	if old != nil {
		old()
	}

	if nilKey {
		if announce {
			m.publish(gen, m.disabled)
		}
		m.logger.Debug("Watch disabled")
		return
	}

	if announce {
		m.publish(gen, m.loading)
	}

	unsub := m.subscribe(key, source.Observer[R]{
		Next:     func(r R) { m.onNext(gen, r) },
		Error:    func(err error) { m.onError(gen, err) },
		Complete: func() { m.onComplete(gen) },
	})
	m.metrics.RecordWatchOpened(m.kind)
	m.logger.Debug("Watch subscribed")

	teardown := m.release(unsub)

	m.mu.Lock()
	if m.gen == gen && !m.closed && !m.finished {
		m.teardown = teardown
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	// Superseded, closed or completed while subscribing.
	teardown()
}

// release wraps unsub so that it runs at most once.
func (m *Manager[K, R, S]) release(unsub source.Unsubscribe) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if unsub != nil {
				unsub()
			}
			m.metrics.RecordWatchClosed(m.kind)
		})
	}
}

func (m *Manager[K, R, S]) publish(gen uint64, st S) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.closed {
		return
	}
	m.emitLocked(st)
}

func (m *Manager[K, R, S]) emitLocked(st S) {
	m.feed.Publish(st)
	m.metrics.RecordState(m.kind, m.status(st).String())
}

func (m *Manager[K, R, S]) onNext(gen uint64, r R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.closed || m.finished {
		return
	}
	m.machine.Next(r, m.emitLocked)
}

func (m *Manager[K, R, S]) onError(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.closed || m.finished {
		return
	}
	m.logger.Debug("Upstream error", "error", err)
	m.machine.Error(err, m.emitLocked)
}

// onComplete finishes the watch: the latest state stays readable and observers
// are told the feed completed.
func (m *Manager[K, R, S]) onComplete(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.closed || m.finished {
		m.mu.Unlock()
		return
	}
	m.finished = true
	m.gen++
	teardown := m.teardown
	m.teardown = nil
	m.mu.Unlock()

	if teardown != nil {
		teardown()
	}
	m.logger.Debug("Upstream completed")

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	defer m.feed.Complete()
	m.machine.Complete()
}

// Finished reports whether the upstream completed.
func (m *Manager[K, R, S]) Finished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished
}

// Close releases the subscription and closes the feed. No state is emitted after
// Close returns. Close is idempotent.
func (m *Manager[K, R, S]) Close() {
	m.keyMu.Lock()
	defer m.keyMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.gen++
	teardown := m.teardown
	m.teardown = nil
	m.mu.Unlock()

	if teardown != nil {
		teardown()
	}
	m.feed.Close()
	m.logger.Debug("Watch closed")
}

// Closed reports whether Close was called.
func (m *Manager[K, R, S]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// isNil reports whether v is a nil interface or a nil pointer, map, slice,
// channel or func.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// sameRef compares document refs with ==. Refs of non-comparable dynamic types
// are never equal.
func sameRef(a, b source.ItemRef) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}
