// Package buffer provides a bounded, thread-safe FIFO for handing values from a
// fast producer to a slower consumer. A full buffer drops according to its
// OverflowPolicy instead of blocking the producer, so a stalled consumer never
// holds up the feed that writes into it. Consumers wait on Ready and drain with
// Read or ReadBatch.
package buffer

import (
	"github.com/c360/docfeed/metric"
)

// OverflowPolicy defines behavior when buffer is full
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for the new one
	DropOldest OverflowPolicy = iota
	// DropNewest discards the item being written
	DropNewest
)

// String returns the string representation of OverflowPolicy
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with every item the buffer discards.
type DropCallback[T any] func(item T)

// Option configures a Buffer.
type Option[T any] func(*bufferOptions[T])

type bufferOptions[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]
	metricsReg     *metric.MetricsRegistry
	metricsPrefix  string
}

// WithOverflowPolicy sets the overflow policy. Defaults to DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.overflowPolicy = policy
	}
}

// WithDropCallback sets a callback for dropped items. It runs outside the
// buffer lock.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.dropCallback = callback
	}
}

// WithMetrics exports buffer activity, labelled component=prefix.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(opts *bufferOptions[T]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}
