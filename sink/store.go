package sink

import "sync"

// Store is an externally owned state holder shared by any number of readers,
// such as a global application store. It starts at, and resets to, its initial
// value.
type Store[S any] struct {
	mu        sync.RWMutex
	initial   S
	value     S
	listeners map[uint64]func(S)
	nextID    uint64
}

// NewStore creates a Store holding initial.
func NewStore[S any](initial S) *Store[S] {
	return &Store[S]{
		initial:   initial,
		value:     initial,
		listeners: make(map[uint64]func(S)),
	}
}

// Get returns the stored value.
func (s *Store[S]) Get() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Write implements Sink.
func (s *Store[S]) Write(st S) {
	s.set(st)
}

// Reset implements Resetter by restoring the initial value.
func (s *Store[S]) Reset() {
	s.set(s.initial)
}

func (s *Store[S]) set(v S) {
	s.mu.Lock()
	s.value = v
	listeners := make([]func(S), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(v)
	}
}

// OnChange registers fn for every later change and returns a function that
// removes it.
func (s *Store[S]) OnChange(fn func(S)) (remove func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}
