// Package source defines the document database collaborator that feeds consume.
//
// A Source opens push-based subscriptions for single documents (ItemRef) and for
// collections described by a query (Query). Events arrive on an Observer; the
// returned Unsubscribe releases the upstream listener. The natsclient package
// provides a JetStream KV implementation, and sourcetest an in-memory fake.
package source

import "fmt"

// Preference selects where a subscription reads from.
type Preference int

const (
	// PreferDefault lets the source decide (cached data first, then live updates).
	PreferDefault Preference = iota
	// PreferCache serves only what the source already holds and then completes.
	PreferCache
	// PreferServer skips locally cached data and waits for the server.
	PreferServer
)

// String returns the string representation of Preference
func (p Preference) String() string {
	switch p {
	case PreferDefault:
		return "default"
	case PreferCache:
		return "cache"
	case PreferServer:
		return "server"
	default:
		return fmt.Sprintf("preference(%d)", int(p))
	}
}

// ParsePreference parses "default", "cache" or "server".
func ParsePreference(s string) (Preference, error) {
	switch s {
	case "", "default":
		return PreferDefault, nil
	case "cache":
		return PreferCache, nil
	case "server":
		return PreferServer, nil
	default:
		return PreferDefault, fmt.Errorf("unknown source preference %q", s)
	}
}

// ListenOptions configure a single upstream subscription.
type ListenOptions struct {
	// IncludeMetadataChanges delivers snapshots whose document bodies did not change.
	IncludeMetadataChanges bool
	Source                 Preference
}

// ItemRef identifies a single document. Refs are compared with == when deciding
// whether a key change needs a new subscription.
type ItemRef interface {
	Path() string
}

// Query describes a collection. Whether two queries select the same documents is
// decided by Source.QueriesEqual, not by ==.
type Query interface {
	String() string
}

// ItemSnapshot is one observed version of a document.
type ItemSnapshot interface {
	// ID identifies the document in diagnostics.
	ID() string
	Exists() bool
	// Data returns the raw document body. It fails for malformed or missing bodies.
	Data() ([]byte, error)
}

// CollectionSnapshot is one observed version of a query result.
type CollectionSnapshot interface {
	// Members are the matching documents in result order.
	Members() []ItemSnapshot
	Size() int
}

// Observer receives raw events for one subscription. A Source calls the
// callbacks serially for a given subscription; any of them may be nil.
type Observer[R any] struct {
	Next     func(R)
	Error    func(error)
	Complete func()
}

// OnNext calls Next when set.
func (o Observer[R]) OnNext(r R) {
	if o.Next != nil {
		o.Next(r)
	}
}

// OnError calls Error when set.
func (o Observer[R]) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

// OnComplete calls Complete when set.
func (o Observer[R]) OnComplete() {
	if o.Complete != nil {
		o.Complete()
	}
}

// Unsubscribe releases an upstream subscription. Implementations must not block
// waiting for in-flight callbacks to return.
type Unsubscribe func()

// Source is the document database collaborator.
type Source interface {
	SubscribeToItem(ref ItemRef, opts ListenOptions, obs Observer[ItemSnapshot]) Unsubscribe
	SubscribeToCollection(q Query, opts ListenOptions, obs Observer[CollectionSnapshot]) Unsubscribe
	// QueriesEqual reports whether two queries are semantically identical.
	QueriesEqual(a, b Query) bool
}
