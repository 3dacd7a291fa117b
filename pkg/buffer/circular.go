package buffer

import (
	"sync"

	"github.com/c360/docfeed/errors"
)

// Buffer is a circular buffer with a fixed capacity.
type Buffer[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	drops    int64
	closed   bool
	ready    chan struct{}
	metrics  *bufferMetrics
	opts     bufferOptions[T]
}

// New creates a buffer holding up to capacity items. Capacities below one are
// raised to one.
func New[T any](capacity int, options ...Option[T]) (*Buffer[T], error) {
	opts := bufferOptions[T]{overflowPolicy: DropOldest}
	for _, opt := range options {
		if opt != nil {
			opt(&opts)
		}
	}
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "New", "metrics registration")
		}
	}

	return &Buffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Write adds item, dropping according to the overflow policy when full.
func (b *Buffer[T]) Write(item T) error {
	var dropped T
	hasDropped := false

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrFeedClosed, "Buffer", "Write", "buffer closed")
	}

	if b.size == b.capacity {
		b.drops++
		hasDropped = true
		if b.opts.overflowPolicy == DropNewest {
			dropped = item
			b.metrics.recordDrop()
			b.mu.Unlock()
			b.dropped(dropped)
			return nil
		}
		dropped = b.items[b.tail]
		b.tail = (b.tail + 1) % b.capacity
		b.size--
		b.metrics.recordDrop()
	}

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	b.size++
	b.metrics.recordWrite(b.size)
	b.mu.Unlock()

	b.signal()
	if hasDropped {
		b.dropped(dropped)
	}
	return nil
}

func (b *Buffer[T]) dropped(item T) {
	if b.opts.dropCallback != nil {
		b.opts.dropCallback(item)
	}
}

func (b *Buffer[T]) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Ready receives a value after writes. A consumer drains the buffer each time
// it fires; one signal may stand for many writes.
func (b *Buffer[T]) Ready() <-chan struct{} {
	return b.ready
}

// Read removes and returns the oldest item.
func (b *Buffer[T]) Read() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.size == 0 {
		return zero, false
	}
	item := b.items[b.tail]
	b.items[b.tail] = zero
	b.tail = (b.tail + 1) % b.capacity
	b.size--
	b.metrics.updateSize(b.size)
	return item, true
}

// ReadBatch removes and returns up to max items, oldest first.
func (b *Buffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(max, b.size)
	if n == 0 {
		return nil
	}

	var zero T
	result := make([]T, n)
	for i := range n {
		result[i] = b.items[b.tail]
		b.items[b.tail] = zero
		b.tail = (b.tail + 1) % b.capacity
	}
	b.size -= n
	b.metrics.updateSize(b.size)
	return result
}

// Size returns the current number of items in the buffer.
func (b *Buffer[T]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (b *Buffer[T]) Capacity() int {
	return b.capacity
}

// Drops returns how many items were discarded so far.
func (b *Buffer[T]) Drops() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drops
}

// Close rejects further writes and unregisters the buffer's metrics. Buffered
// items stay readable.
func (b *Buffer[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.metrics != nil {
		b.metrics.unregister(b.opts.metricsReg, b.opts.metricsPrefix)
	}
	return nil
}
