// Package sink drives feed states into their destinations.
//
// A Synchronizer writes every state of a feed to its sinks exactly once, in
// emission order. Detach stops the writes and resets sinks that implement
// Resetter, so a shared store never keeps data of a feed that is gone.
package sink

import (
	"sync"

	"github.com/c360/docfeed/feed"
)

// Sink receives states.
type Sink[S any] interface {
	Write(st S)
}

// Resetter is implemented by externally owned sinks that must return to their
// initial value when the feed detaches.
type Resetter interface {
	Reset()
}

// Func adapts a function to Sink.
type Func[S any] func(st S)

// Write implements Sink.
func (f Func[S]) Write(st S) { f(st) }

// Synchronizer connects one feed to a set of sinks.
type Synchronizer[S any] struct {
	mu       sync.Mutex // held while writing to sinks
	sinks    []Sink[S]
	detached bool
	cancel   func()
	once     sync.Once
}

// Attach subscribes sinks to f. Every sink receives the current value of f
// before Attach returns. Sinks must not call Detach from Write.
func Attach[S any](f *feed.Feed[S], sinks ...Sink[S]) *Synchronizer[S] {
	s := &Synchronizer[S]{sinks: sinks}
	s.cancel = f.SubscribeFunc(s.write)
	return s
}

func (s *Synchronizer[S]) write(st S) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return
	}
	for _, sk := range s.sinks {
		sk.Write(st)
	}
}

// Detach stops writing and resets every Resetter sink. No write happens after
// Detach returns. Detach is idempotent.
func (s *Synchronizer[S]) Detach() {
	s.once.Do(func() {
		s.mu.Lock()
		s.detached = true
		s.mu.Unlock()

		s.cancel()
		for _, sk := range s.sinks {
			if r, ok := sk.(Resetter); ok {
				r.Reset()
			}
		}
	})
}
