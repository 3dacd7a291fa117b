// Package state converts raw document snapshots into tagged feed states.
//
// Every raw event becomes exactly one state value: loading, disabled, error or
// resolved. Item states carry Exists/Data, collection states carry Size/Empty/Data.
// Error states never carry data, and decode failures collapse into the same error
// state as transport failures; only the Reporter side-channel can tell them apart.
package state

import (
	"fmt"

	"github.com/c360/docfeed/source"
)

// Status is the tag of a state value.
type Status int

const (
	// StatusLoading means no snapshot has been observed since the last (re)subscription.
	StatusLoading Status = iota
	// StatusDisabled means there is no key and therefore no upstream subscription.
	StatusDisabled
	// StatusError means the subscription or the decoder failed. No data is carried.
	StatusError
	// StatusResolved means a snapshot was observed and decoded.
	StatusResolved
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusDisabled:
		return "disabled"
	case StatusError:
		return "error"
	case StatusResolved:
		return "resolved"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ItemState is the state of a single-document feed.
type ItemState[T any] struct {
	Status Status
	// Exists is only meaningful when Status is StatusResolved.
	Exists bool
	// Data is the decoded document; zero unless Exists.
	Data     T
	Snapshot source.ItemSnapshot
}

// LoadingItem returns the initial state of an item feed.
func LoadingItem[T any]() ItemState[T] {
	return ItemState[T]{Status: StatusLoading}
}

// DisabledItem returns the state of an item feed without a key.
func DisabledItem[T any]() ItemState[T] {
	return ItemState[T]{Status: StatusDisabled}
}

// ErrorItem returns the error state of an item feed.
func ErrorItem[T any]() ItemState[T] {
	return ItemState[T]{Status: StatusError}
}

// IsLoading reports whether the feed is waiting for its first snapshot.
func (s ItemState[T]) IsLoading() bool { return s.Status == StatusLoading }

// IsDisabled reports whether the feed has no key.
func (s ItemState[T]) IsDisabled() bool { return s.Status == StatusDisabled }

// HasError reports whether the feed is in the error state.
func (s ItemState[T]) HasError() bool { return s.Status == StatusError }

// Settled reports whether the state is a definitive answer (error or resolved).
func (s ItemState[T]) Settled() bool {
	return s.Status == StatusError || s.Status == StatusResolved
}

// CollectionState is the state of a query feed. Empty, Size and len(Data) always agree.
type CollectionState[T any] struct {
	Status   Status
	Size     int
	Empty    bool
	Data     []T
	Snapshot source.CollectionSnapshot
}

// LoadingCollection returns the initial state of a collection feed.
func LoadingCollection[T any]() CollectionState[T] {
	return CollectionState[T]{Status: StatusLoading, Empty: true, Data: []T{}}
}

// DisabledCollection returns the state of a collection feed without a query.
func DisabledCollection[T any]() CollectionState[T] {
	return CollectionState[T]{Status: StatusDisabled, Empty: true, Data: []T{}}
}

// ErrorCollection returns the error state of a collection feed.
func ErrorCollection[T any]() CollectionState[T] {
	return CollectionState[T]{Status: StatusError, Empty: true, Data: []T{}}
}

// IsLoading reports whether the feed is waiting for its first snapshot.
func (s CollectionState[T]) IsLoading() bool { return s.Status == StatusLoading }

// IsDisabled reports whether the feed has no query.
func (s CollectionState[T]) IsDisabled() bool { return s.Status == StatusDisabled }

// HasError reports whether the feed is in the error state.
func (s CollectionState[T]) HasError() bool { return s.Status == StatusError }

// Settled reports whether the state is a definitive answer (error or resolved).
func (s CollectionState[T]) Settled() bool {
	return s.Status == StatusError || s.Status == StatusResolved
}
