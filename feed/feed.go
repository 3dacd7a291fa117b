// Package feed provides Feed, a push-based relay of state values with last-value
// replay.
//
// A Feed always holds a current value. Subscribing delivers that value
// synchronously before Subscribe returns, so a consumer never observes "nothing".
// Values published afterwards reach every attached observer, in publish order,
// with no coalescing. Late subscribers only see the latest value.
//
// Deliveries are synchronous and serialised: an observer must not call Publish,
// Complete or Subscribe on the same feed from inside its callbacks. Cancelling
// its own subscription or closing the feed from a callback is allowed.
package feed

import (
	"sync"
	"sync/atomic"

	"github.com/c360/docfeed/errors"
)

// Observer receives values from a Feed. Done is called at most once, with
// errors.ErrFeedCompleted or errors.ErrFeedClosed. Either callback may be nil.
type Observer[S any] struct {
	Next func(S)
	Done func(reason error)
}

type subscription[S any] struct {
	obs    Observer[S]
	active atomic.Bool
	done   sync.Once
}

func (s *subscription[S]) next(v S) {
	if s.active.Load() && s.obs.Next != nil {
		s.obs.Next(v)
	}
}

func (s *subscription[S]) finish(reason error) {
	s.done.Do(func() {
		s.active.Store(false)
		if s.obs.Done != nil {
			s.obs.Done(reason)
		}
	})
}

// Feed is a relay of state values for one key.
type Feed[S any] struct {
	deliverMu sync.Mutex // serialises Publish, Complete and Subscribe replay

	mu        sync.Mutex
	value     S
	subs      []*subscription[S]
	completed bool
	closed    bool
}

// New creates a Feed whose current value is initial.
func New[S any](initial S) *Feed[S] {
	return &Feed[S]{value: initial}
}

// Value returns the current value.
func (f *Feed[S]) Value() S {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Completed reports whether the upstream finished.
func (f *Feed[S]) Completed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// Closed reports whether the feed was closed.
func (f *Feed[S]) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Publish sets the current value and delivers it to every attached observer.
// Publishing to a completed or closed feed is a no-op.
func (f *Feed[S]) Publish(v S) {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	f.mu.Lock()
	if f.completed || f.closed {
		f.mu.Unlock()
		return
	}
	f.value = v
	subs := append([]*subscription[S](nil), f.subs...)
	f.mu.Unlock()

	for _, s := range subs {
		s.next(v)
	}
}

// Complete marks the feed finished. The current value is kept for late
// subscribers, which receive it followed by Done(ErrFeedCompleted).
func (f *Feed[S]) Complete() {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	f.mu.Lock()
	if f.completed || f.closed {
		f.mu.Unlock()
		return
	}
	f.completed = true
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()

	for _, s := range subs {
		s.finish(errors.ErrFeedCompleted)
	}
}

// Close detaches every observer with Done(ErrFeedClosed). No value is delivered
// after Close returns, apart from a delivery already running on another goroutine.
// Close is idempotent.
func (f *Feed[S]) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()

	for _, s := range subs {
		s.active.Store(false)
	}
	for _, s := range subs {
		s.finish(errors.ErrFeedClosed)
	}
}

// Subscribe attaches obs, replays the current value to it, and returns a cancel
// function. Cancel is idempotent and does not call Done.
func (f *Feed[S]) Subscribe(obs Observer[S]) (cancel func()) {
	s := &subscription[S]{obs: obs}
	s.active.Store(true)

	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		s.finish(errors.ErrFeedClosed)
		return func() {}
	}
	v := f.value
	completed := f.completed
	if !completed {
		f.subs = append(f.subs, s)
	}
	f.mu.Unlock()

	s.next(v)
	if completed {
		s.finish(errors.ErrFeedCompleted)
		return func() {}
	}

	return func() { f.unsubscribe(s) }
}

// SubscribeFunc is Subscribe for callers that only want values.
func (f *Feed[S]) SubscribeFunc(next func(S)) (cancel func()) {
	return f.Subscribe(Observer[S]{Next: next})
}

func (f *Feed[S]) unsubscribe(s *subscription[S]) {
	if !s.active.Swap(false) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cur := range f.subs {
		if cur == s {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return
		}
	}
}

// Subscribers returns the number of attached observers.
func (f *Feed[S]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
