package querycache

import (
	"log/slog"
	"time"

	"github.com/c360/docfeed/metric"
	"github.com/c360/docfeed/pkg/cache"
	"github.com/c360/docfeed/resolve"
	"github.com/c360/docfeed/source"
	"github.com/c360/docfeed/state"
)

// Options configure a query cache client.
type Options struct {
	Cache   cache.Config
	Timeout time.Duration
	Listen  source.ListenOptions

	Logger   *slog.Logger
	Registry *metric.MetricsRegistry
	// Prefix labels the docfeed_cache_* series as component=Prefix. Empty
	// disables cache metrics.
	Prefix   string
	Reporter state.Reporter
}

// Option is a functional option for NewItems and NewCollections.
type Option func(*Options)

// WithCacheConfig sets capacity and expiry of the cache.
func WithCacheConfig(cfg cache.Config) Option {
	return func(o *Options) {
		o.Cache = cfg
	}
}

// WithResolveTimeout bounds how long Fetch waits for the first settled state.
func WithResolveTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithListenOptions passes listen options to every feed opened by the client.
func WithListenOptions(opts source.ListenOptions) Option {
	return func(o *Options) {
		o.Listen = opts
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithMetrics records cache, feed, resolution and registry metrics on reg. The
// cache collectors are registered under prefix.
func WithMetrics(reg *metric.MetricsRegistry, prefix string) Option {
	return func(o *Options) {
		o.Registry = reg
		o.Prefix = prefix
	}
}

// WithReporter receives every feed error in addition to the client's own
// bookkeeping.
func WithReporter(r state.Reporter) Option {
	return func(o *Options) {
		o.Reporter = r
	}
}

func buildOptions(opts []Option) Options {
	o := Options{
		Cache:   cache.DefaultConfig(),
		Timeout: resolve.DefaultTimeout,
		Logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
