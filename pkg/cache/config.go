package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/docfeed/errors"
)

// Config describes a request cache.
type Config struct {
	// MaxEntries bounds the cache (LRU eviction). Zero means unbounded.
	MaxEntries int `json:"max_entries" yaml:"max_entries"`

	// TTL expires entries after their last write. Zero disables expiry.
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// CleanupInterval is how often expired entries are swept.
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
}

// DefaultConfig returns a bounded cache without expiry. Entries backed by a live
// feed stay fresh, so expiry is opt-in.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      1000,
		CleanupInterval: time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.MaxEntries < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("max_entries must not be negative, got %d", c.MaxEntries))
	}
	if c.TTL < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("ttl must not be negative, got %v", c.TTL))
	}
	if c.TTL > 0 && c.CleanupInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("cleanup_interval must be positive with a ttl, got %v", c.CleanupInterval))
	}
	return nil
}

// NewFromConfig creates a cache from config. Additional options, such as the
// eviction callback or metrics, are applied after the config.
func NewFromConfig[V any](ctx context.Context, config Config, options ...Option[V]) (Cache[V], error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	opts := []Option[V]{
		WithMaxEntries[V](config.MaxEntries),
		WithTTL[V](config.TTL),
		WithCleanupInterval[V](config.CleanupInterval),
	}
	return New(ctx, append(opts, options...)...)
}
