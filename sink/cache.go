package sink

import (
	"github.com/c360/docfeed/state"
)

// CacheWriter is the write side of a request cache. cache.Cache satisfies it.
type CacheWriter[V any] interface {
	Set(key string, value V) (bool, error)
}

// CacheOption configures a cache entry sink.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	onError func(key string, err error)
}

// OnSetError is called when the cache rejects a write.
func OnSetError(fn func(key string, err error)) CacheOption {
	return func(o *cacheOptions) {
		o.onError = fn
	}
}

// ItemCacheEntry writes item states into the cache entry under key. Loading and
// disabled states are skipped. An error state is written as nil, never
// surfaced through the cache's own error channel.
func ItemCacheEntry[T any](c CacheWriter[*T], key string, opts ...CacheOption) Sink[state.ItemState[T]] {
	o := applyCacheOptions(opts)
	return Func[state.ItemState[T]](func(st state.ItemState[T]) {
		var value *T
		switch {
		case !st.Settled():
			return
		case st.Status == state.StatusResolved && st.Exists:
			data := st.Data
			value = &data
		}
		o.set(key, func() error {
			_, err := c.Set(key, value)
			return err
		})
	})
}

// CollectionCacheEntry writes collection states into the cache entry under key.
// Loading and disabled states are skipped. An error state is written as an
// empty collection.
func CollectionCacheEntry[T any](c CacheWriter[[]T], key string, opts ...CacheOption) Sink[state.CollectionState[T]] {
	o := applyCacheOptions(opts)
	return Func[state.CollectionState[T]](func(st state.CollectionState[T]) {
		if !st.Settled() {
			return
		}
		value := []T{}
		if st.Status == state.StatusResolved {
			value = st.Data
		}
		o.set(key, func() error {
			_, err := c.Set(key, value)
			return err
		})
	})
}

func applyCacheOptions(opts []CacheOption) *cacheOptions {
	o := &cacheOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *cacheOptions) set(key string, write func() error) {
	if err := write(); err != nil && o.onError != nil {
		o.onError(key, err)
	}
}
