// Package querycache serves documents and query results from a request cache
// that live feeds keep up to date.
//
// The first Fetch of a key opens a watch, resolves its first settled state and
// attaches the watch to the cache entry for key, so every later state is
// written into the entry. The teardown of the feed is registered under the same
// key, and the cache's eviction callback routes removals to the registry, so an
// evicted, expired or invalidated entry closes its feed. An entry is fresh for
// as long as its feed is alive; IsStale reports the opposite. A feed that
// completes leaves its entry stale, so the next Fetch loads it again.
//
// Error states after the first settled state reach the cache as a missing
// document or an empty collection. Only a failure to produce the first state is
// returned by Fetch.
//
//	docs, err := querycache.NewItems(ctx, src, state.JSON[User](),
//	    querycache.WithCacheConfig(cache.Config{MaxEntries: 500}),
//	)
//	if err != nil {
//	    return err
//	}
//	defer docs.Close()
//
//	user, err := docs.Fetch(ctx, "users/ada", natsclient.DocRef{Bucket: "users", Key: "ada"})
package querycache

import (
	"context"

	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/sink"
	"github.com/c360/docfeed/source"
	"github.com/c360/docfeed/state"
	"github.com/c360/docfeed/watch"
)

// Items caches single documents. A cached nil means the document does not
// exist.
type Items[T any] struct {
	b      *binding[*T, state.ItemState[T]]
	src    source.Source
	decode state.Decoder[T]
}

// NewItems creates a document cache over src. The cache lives until Close or
// until ctx is cancelled, whichever comes first for its expiry sweeper.
func NewItems[T any](ctx context.Context, src source.Source, decode state.Decoder[T], opts ...Option) (*Items[T], error) {
	b, err := newBinding[*T, state.ItemState[T]](ctx, watch.KindItem, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	return &Items[T]{b: b, src: src, decode: decode}, nil
}

// Fetch returns the document cached under key, loading it from ref when the
// entry is missing or stale. A nil result without error means the document does
// not exist.
func (c *Items[T]) Fetch(ctx context.Context, key string, ref source.ItemRef) (*T, error) {
	if ref == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "querycache", "Fetch", "item ref is required")
	}
	open := func(opts ...watch.Option) liveFeed[state.ItemState[T]] {
		return watch.WatchItem(c.src, ref, c.decode, state.Listener[state.ItemState[T]]{}, opts...)
	}
	return c.b.fetch(ctx, key, open, itemValue[T], c.entry)
}

func (c *Items[T]) entry(w sink.CacheWriter[*T], key string) sink.Sink[state.ItemState[T]] {
	return sink.ItemCacheEntry[T](w, key, sink.OnSetError(c.b.setFailed))
}

func itemValue[T any](st state.ItemState[T]) *T {
	if !st.Exists {
		return nil
	}
	data := st.Data
	return &data
}

// Peek returns the cached document without loading it.
func (c *Items[T]) Peek(key string) (*T, bool) {
	return c.b.cache.Get(key)
}

// IsStale reports whether no live feed backs key.
func (c *Items[T]) IsStale(key string) bool { return c.b.isStale(key) }

// Invalidate drops the entry for key and closes its feed. It reports whether
// anything was removed.
func (c *Items[T]) Invalidate(key string) bool { return c.b.invalidate(key) }

// Len returns the number of cached entries.
func (c *Items[T]) Len() int { return c.b.cache.Size() }

// Close drops every entry and closes every feed. Fetch fails afterwards.
func (c *Items[T]) Close() error { return c.b.close() }

// Collections caches query results.
type Collections[T any] struct {
	b      *binding[[]T, state.CollectionState[T]]
	src    source.Source
	decode state.Decoder[T]
}

// NewCollections creates a query result cache over src.
func NewCollections[T any](ctx context.Context, src source.Source, decode state.Decoder[T], opts ...Option) (*Collections[T], error) {
	b, err := newBinding[[]T, state.CollectionState[T]](ctx, watch.KindCollection, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	return &Collections[T]{b: b, src: src, decode: decode}, nil
}

// Fetch returns the result cached under key, running q when the entry is
// missing or stale. The result is never nil.
func (c *Collections[T]) Fetch(ctx context.Context, key string, q source.Query) ([]T, error) {
	if q == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "querycache", "Fetch", "query is required")
	}
	open := func(opts ...watch.Option) liveFeed[state.CollectionState[T]] {
		return watch.WatchCollection(c.src, q, c.decode, state.Listener[state.CollectionState[T]]{}, opts...)
	}
	return c.b.fetch(ctx, key, open, collectionValue[T], c.entry)
}

func (c *Collections[T]) entry(w sink.CacheWriter[[]T], key string) sink.Sink[state.CollectionState[T]] {
	return sink.CollectionCacheEntry[T](w, key, sink.OnSetError(c.b.setFailed))
}

func collectionValue[T any](st state.CollectionState[T]) []T {
	if st.Data == nil {
		return []T{}
	}
	return st.Data
}

// Peek returns the cached result without running the query.
func (c *Collections[T]) Peek(key string) ([]T, bool) {
	return c.b.cache.Get(key)
}

// IsStale reports whether no live feed backs key.
func (c *Collections[T]) IsStale(key string) bool { return c.b.isStale(key) }

// Invalidate drops the entry for key and closes its feed.
func (c *Collections[T]) Invalidate(key string) bool { return c.b.invalidate(key) }

// Len returns the number of cached entries.
func (c *Collections[T]) Len() int { return c.b.cache.Size() }

// Close drops every entry and closes every feed.
func (c *Collections[T]) Close() error { return c.b.close() }
