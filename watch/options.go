package watch

import (
	"log/slog"

	"github.com/c360/docfeed/metric"
	"github.com/c360/docfeed/source"
	"github.com/c360/docfeed/state"
)

// Options configure a watch.
type Options struct {
	Listen   source.ListenOptions
	Logger   *slog.Logger
	Metrics  *metric.Metrics
	Reporter state.Reporter
}

// Option is a functional option for watches.
type Option func(*Options)

// WithListenOptions sets the options passed to every upstream subscription.
func WithListenOptions(opts source.ListenOptions) Option {
	return func(o *Options) {
		o.Listen = opts
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMetrics records watch activity on m.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// WithReporter sets the error side-channel. Defaults to a metric.Reporter bound
// to the configured metrics and logger.
func WithReporter(r state.Reporter) Option {
	return func(o *Options) {
		o.Reporter = r
	}
}

func buildOptions(kind string, opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Reporter == nil {
		o.Reporter = metric.NewReporter(o.Metrics, o.Logger, kind)
	}
	return o
}
