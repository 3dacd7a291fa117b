// Package sourcetest provides an in-memory source.Source for tests. It records every
// subscribe and unsubscribe call and lets tests push snapshots, errors and completion
// into any subscription it handed out.
package sourcetest

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/c360/docfeed/source"
)

// Ref is a document reference compared by value.
type Ref string

// Path implements source.ItemRef.
func (r Ref) Path() string { return string(r) }

// Query selects documents of a collection. Two queries are equal when their
// canonical strings match, so field order in Where does not matter.
type Query struct {
	Collection string
	Where      []string
	Limit      int
}

// String renders the canonical form used for equality.
func (q *Query) String() string {
	if q == nil {
		return "<nil>"
	}
	where := append([]string(nil), q.Where...)
	slices.Sort(where)
	return fmt.Sprintf("%s?where=%s&limit=%d", q.Collection, strings.Join(where, ","), q.Limit)
}

// Doc is a fake document snapshot.
type Doc struct {
	id     string
	exists bool
	body   []byte
	err    error
}

// Item returns an existing document with the given JSON body.
func Item(id, body string) Doc {
	return Doc{id: id, exists: true, body: []byte(body)}
}

// Missing returns a snapshot for a document that does not exist.
func Missing(id string) Doc {
	return Doc{id: id}
}

// Unreadable returns an existing document whose body cannot be read.
func Unreadable(id string, err error) Doc {
	return Doc{id: id, exists: true, err: err}
}

// ID implements source.ItemSnapshot.
func (d Doc) ID() string { return d.id }

// Exists implements source.ItemSnapshot.
func (d Doc) Exists() bool { return d.exists }

// Data implements source.ItemSnapshot.
func (d Doc) Data() ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.body, nil
}

// Collection is a fake query result.
type Collection []source.ItemSnapshot

// Docs builds a Collection from documents.
func Docs(docs ...Doc) Collection {
	c := make(Collection, len(docs))
	for i, d := range docs {
		c[i] = d
	}
	return c
}

// Members implements source.CollectionSnapshot.
func (c Collection) Members() []source.ItemSnapshot { return c }

// Size implements source.CollectionSnapshot.
func (c Collection) Size() int { return len(c) }

// Subscription is one recorded upstream subscription.
type Subscription[R any] struct {
	Key     any
	Options source.ListenOptions

	obs          source.Observer[R]
	mu           sync.Mutex
	unsubscribed int
}

// Emit delivers a snapshot, even after unsubscribe, to mimic in-flight events.
func (s *Subscription[R]) Emit(r R) { s.obs.OnNext(r) }

// Fail delivers an upstream error.
func (s *Subscription[R]) Fail(err error) { s.obs.OnError(err) }

// Complete signals upstream completion.
func (s *Subscription[R]) Complete() { s.obs.OnComplete() }

// Unsubscribed returns how many times the unsubscribe handle was invoked.
func (s *Subscription[R]) Unsubscribed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

func (s *Subscription[R]) unsubscribe() {
	s.mu.Lock()
	s.unsubscribed++
	s.mu.Unlock()
}

// Fake is an in-memory source.Source.
type Fake struct {
	// Equal overrides query equality. Defaults to comparing String().
	Equal func(a, b source.Query) bool
	// OnItemSubscribe runs synchronously inside SubscribeToItem, before it returns.
	OnItemSubscribe func(*Subscription[source.ItemSnapshot])
	// OnCollectionSubscribe runs synchronously inside SubscribeToCollection.
	OnCollectionSubscribe func(*Subscription[source.CollectionSnapshot])

	mu          sync.Mutex
	items       []*Subscription[source.ItemSnapshot]
	collections []*Subscription[source.CollectionSnapshot]
}

// New creates an empty Fake.
func New() *Fake {
	return &Fake{}
}

// SubscribeToItem implements source.Source.
func (f *Fake) SubscribeToItem(ref source.ItemRef, opts source.ListenOptions, obs source.Observer[source.ItemSnapshot]) source.Unsubscribe {
	sub := &Subscription[source.ItemSnapshot]{Key: ref, Options: opts, obs: obs}
	f.mu.Lock()
	f.items = append(f.items, sub)
	hook := f.OnItemSubscribe
	f.mu.Unlock()
	if hook != nil {
		hook(sub)
	}
	return sub.unsubscribe
}

// SubscribeToCollection implements source.Source.
func (f *Fake) SubscribeToCollection(q source.Query, opts source.ListenOptions, obs source.Observer[source.CollectionSnapshot]) source.Unsubscribe {
	sub := &Subscription[source.CollectionSnapshot]{Key: q, Options: opts, obs: obs}
	f.mu.Lock()
	f.collections = append(f.collections, sub)
	hook := f.OnCollectionSubscribe
	f.mu.Unlock()
	if hook != nil {
		hook(sub)
	}
	return sub.unsubscribe
}

// QueriesEqual implements source.Source.
func (f *Fake) QueriesEqual(a, b source.Query) bool {
	if f.Equal != nil {
		return f.Equal(a, b)
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// ItemSubscriptions returns every item subscription opened so far.
func (f *Fake) ItemSubscriptions() []*Subscription[source.ItemSnapshot] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Subscription[source.ItemSnapshot](nil), f.items...)
}

// CollectionSubscriptions returns every collection subscription opened so far.
func (f *Fake) CollectionSubscriptions() []*Subscription[source.CollectionSnapshot] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Subscription[source.CollectionSnapshot](nil), f.collections...)
}

// LastItem returns the most recent item subscription, or nil.
func (f *Fake) LastItem() *Subscription[source.ItemSnapshot] {
	subs := f.ItemSubscriptions()
	if len(subs) == 0 {
		return nil
	}
	return subs[len(subs)-1]
}

// LastCollection returns the most recent collection subscription, or nil.
func (f *Fake) LastCollection() *Subscription[source.CollectionSnapshot] {
	subs := f.CollectionSubscriptions()
	if len(subs) == 0 {
		return nil
	}
	return subs[len(subs)-1]
}

// Subscribes counts subscribe calls across items and collections.
func (f *Fake) Subscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items) + len(f.collections)
}

// Unsubscribes counts unsubscribe calls across items and collections.
func (f *Fake) Unsubscribes() int {
	total := 0
	for _, s := range f.ItemSubscriptions() {
		total += s.Unsubscribed()
	}
	for _, s := range f.CollectionSubscriptions() {
		total += s.Unsubscribed()
	}
	return total
}
