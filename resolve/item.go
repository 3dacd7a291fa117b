package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/metric"
	"github.com/c360/docfeed/source"
	"github.com/c360/docfeed/state"
	"github.com/c360/docfeed/watch"
)

// Options configure the one-shot helpers.
type Options struct {
	Timeout time.Duration
	Metrics *metric.Metrics
	Watch   []watch.Option
}

// Option is a functional option for the one-shot helpers.
type Option func(*Options)

// WithTimeout overrides DefaultTimeout. Zero rejects unless the first state is
// already settled.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithMetrics records resolution outcomes and watch activity on m.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *Options) {
		o.Metrics = m
		o.Watch = append(o.Watch, watch.WithMetrics(m))
	}
}

// WithWatchOptions passes options to the underlying watch.
func WithWatchOptions(opts ...watch.Option) Option {
	return func(o *Options) {
		o.Watch = append(o.Watch, opts...)
	}
}

func buildOptions(opts []Option) Options {
	o := Options{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Item opens a watch on ref, waits for its first settled state and closes the
// watch again.
func Item[T any](ctx context.Context, src source.Source, ref source.ItemRef, decode state.Decoder[T], opts ...Option) (state.ItemState[T], error) {
	o := buildOptions(opts)
	w := watch.WatchItem(src, ref, decode, state.Listener[state.ItemState[T]]{}, o.Watch...)
	defer w.Close()
	return First(ctx, w.Feed(), o.Timeout, o.Metrics)
}

// Collection opens a watch on q, waits for its first settled state and closes
// the watch again.
func Collection[T any](ctx context.Context, src source.Source, q source.Query, decode state.Decoder[T], opts ...Option) (state.CollectionState[T], error) {
	o := buildOptions(opts)
	w := watch.WatchCollection(src, q, decode, state.Listener[state.CollectionState[T]]{}, o.Watch...)
	defer w.Close()
	return First(ctx, w.Feed(), o.Timeout, o.Metrics)
}

// Exists reduces a settled item state to its exists flag. An error state has no
// exists flag and yields errors.ErrNoExistsField instead of false.
func Exists[T any](st state.ItemState[T]) (bool, error) {
	if st.Status != state.StatusResolved {
		return false, errors.WrapInvalid(
			fmt.Errorf("%w: status %s", errors.ErrNoExistsField, st.Status),
			"resolve", "Exists", "read exists field")
	}
	return st.Exists, nil
}

// DocumentExists reports whether the document behind ref exists.
func DocumentExists(ctx context.Context, src source.Source, ref source.ItemRef, opts ...Option) (bool, error) {
	st, err := Item[[]byte](ctx, src, ref, rawBody, opts...)
	if err != nil {
		return false, err
	}
	return Exists(st)
}

func rawBody(body []byte) ([]byte, error) {
	return body, nil
}
