package watch

import (
	"github.com/c360/docfeed/source"
	"github.com/c360/docfeed/state"
)

const (
	// KindItem labels single-document watches in logs and metrics.
	KindItem = "item"
	// KindCollection labels query watches in logs and metrics.
	KindCollection = "collection"
)

// ItemWatch follows a single document.
type ItemWatch[T any] = Manager[source.ItemRef, source.ItemSnapshot, state.ItemState[T]]

// CollectionWatch follows the result of a query.
type CollectionWatch[T any] = Manager[source.Query, source.CollectionSnapshot, state.CollectionState[T]]

// WatchItem opens a watch on ref. A nil ref starts the watch Disabled without
// subscribing. Refs are compared with ==.
func WatchItem[T any](src source.Source, ref source.ItemRef, decode state.Decoder[T], listener state.Listener[state.ItemState[T]], opts ...Option) *ItemWatch[T] {
	o := buildOptions(KindItem, opts)
	listen := o.Listen

	return newManager(config[source.ItemRef, source.ItemSnapshot, state.ItemState[T]]{
		kind:  KindItem,
		equal: sameRef,
		subscribe: func(ref source.ItemRef, obs source.Observer[source.ItemSnapshot]) source.Unsubscribe {
			return src.SubscribeToItem(ref, listen, obs)
		},
		machine:  state.NewItemMachine(decode, listener, o.Reporter),
		loading:  state.LoadingItem[T](),
		disabled: state.DisabledItem[T](),
		status:   func(s state.ItemState[T]) state.Status { return s.Status },
	}, ref, o)
}

// WatchCollection opens a watch on q. A nil query starts the watch Disabled
// without subscribing. Queries are compared with src.QueriesEqual, so a rebuilt
// but equivalent query keeps the existing subscription.
func WatchCollection[T any](src source.Source, q source.Query, decode state.Decoder[T], listener state.Listener[state.CollectionState[T]], opts ...Option) *CollectionWatch[T] {
	o := buildOptions(KindCollection, opts)
	listen := o.Listen

	return newManager(config[source.Query, source.CollectionSnapshot, state.CollectionState[T]]{
		kind:  KindCollection,
		equal: src.QueriesEqual,
		subscribe: func(q source.Query, obs source.Observer[source.CollectionSnapshot]) source.Unsubscribe {
			return src.SubscribeToCollection(q, listen, obs)
		},
		machine:  state.NewCollectionMachine(decode, listener, o.Reporter),
		loading:  state.LoadingCollection[T](),
		disabled: state.DisabledCollection[T](),
		status:   func(s state.CollectionState[T]) state.Status { return s.Status },
	}, q, o)
}
