package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/c360/docfeed/codec"
	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/pkg/cache"
	"github.com/c360/docfeed/source"
	"github.com/c360/docfeed/stream"
)

// Config represents the complete application configuration
type Config struct {
	Version string        `json:"version,omitempty"` // Semantic version of the file, e.g. "1.0.0"
	NATS    NATSConfig    `json:"nats"`
	Store   StoreConfig   `json:"store"`
	Listen  ListenConfig  `json:"listen"`
	Resolve ResolveConfig `json:"resolve"`
	Cache   cache.Config  `json:"cache"`
	Stream  stream.Config `json:"stream"`
	Metrics MetricsConfig `json:"metrics"`
	Log     LogConfig     `json:"log"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs                    []string      `json:"urls,omitempty"`
	Name                    string        `json:"name,omitempty"`
	MaxReconnects           int           `json:"max_reconnects,omitempty"`
	ReconnectWait           time.Duration `json:"reconnect_wait,omitempty"`
	Timeout                 time.Duration `json:"timeout,omitempty"`
	DrainTimeout            time.Duration `json:"drain_timeout,omitempty"`
	CircuitBreakerThreshold int           `json:"circuit_breaker_threshold,omitempty"`
	MaxBackoff              time.Duration `json:"max_backoff,omitempty"`
	Username                string        `json:"username,omitempty"`
	Password                string        `json:"password,omitempty"`
	Token                   string        `json:"token,omitempty"`
	TLS                     NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// StoreConfig describes the document bucket.
type StoreConfig struct {
	Bucket       string `json:"bucket"`
	History      int    `json:"history,omitempty"`        // Revisions kept per key
	Replicas     int    `json:"replicas,omitempty"`       // Replication factor
	MaxValueSize int    `json:"max_value_size,omitempty"` // Largest accepted document body
	Encoding     string `json:"encoding,omitempty"`       // json or cbor
	// Schema is a JSON Schema file every written document must satisfy.
	Schema string `json:"schema,omitempty"`
	// Overrides is the key of a document in Bucket whose JSON object is merged
	// over this configuration at runtime. Empty disables live overrides.
	Overrides string `json:"overrides,omitempty"`
}

// ListenConfig holds the default options of every subscription.
type ListenConfig struct {
	IncludeMetadataChanges bool   `json:"include_metadata_changes"`
	Source                 string `json:"source,omitempty"` // default, cache or server
}

// Options converts the config to source.ListenOptions.
func (l ListenConfig) Options() (source.ListenOptions, error) {
	pref, err := source.ParsePreference(l.Source)
	if err != nil {
		return source.ListenOptions{}, err
	}
	return source.ListenOptions{IncludeMetadataChanges: l.IncludeMetadataChanges, Source: pref}, nil
}

// ResolveConfig bounds one-shot reads.
type ResolveConfig struct {
	Timeout time.Duration `json:"timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool          `json:"enabled"`
	Port     int           `json:"port,omitempty"`
	Path     string        `json:"path,omitempty"`
	Interval time.Duration `json:"interval,omitempty"` // Bucket statistics refresh
}

// LogConfig selects level and format of the process logger.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // json or text
}

// Default returns the built-in configuration every layer is merged over.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:                    []string{"nats://localhost:4222"},
			Name:                    "docfeed",
			MaxReconnects:           -1,
			ReconnectWait:           2 * time.Second,
			Timeout:                 5 * time.Second,
			DrainTimeout:            30 * time.Second,
			CircuitBreakerThreshold: 5,
			MaxBackoff:              time.Minute,
		},
		Store: StoreConfig{
			Bucket:       "docs",
			History:      5,
			Replicas:     1,
			MaxValueSize: 1024 * 1024,
			Encoding:     "json",
		},
		Resolve: ResolveConfig{Timeout: 10 * time.Second},
		Cache:   cache.DefaultConfig(),
		Stream:  stream.DefaultConfig(),
		Metrics: MetricsConfig{
			Port:     9090,
			Path:     "/metrics",
			Interval: 30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if len(c.NATS.URLs) == 0 {
		return invalid("nats.urls is required")
	}
	for i, url := range c.NATS.URLs {
		if strings.TrimSpace(url) == "" {
			return invalid(fmt.Sprintf("nats.urls[%d] is empty", i))
		}
	}
	if c.NATS.Timeout < 0 || c.NATS.ReconnectWait < 0 || c.NATS.DrainTimeout < 0 || c.NATS.MaxBackoff < 0 {
		return invalid("nats durations must not be negative")
	}
	if c.NATS.CircuitBreakerThreshold < 0 {
		return invalid(fmt.Sprintf("nats.circuit_breaker_threshold must not be negative, got %d",
			c.NATS.CircuitBreakerThreshold))
	}
	if err := c.validateTLS(); err != nil {
		return err
	}

	if c.Store.Bucket == "" {
		return invalid("store.bucket is required")
	}
	if !isValidBucketName(c.Store.Bucket) {
		return invalid(fmt.Sprintf(
			"store.bucket '%s' is not a valid bucket name (alphanumeric, dashes, underscores)", c.Store.Bucket))
	}
	if c.Store.History < 0 || c.Store.History > 64 {
		return invalid(fmt.Sprintf("store.history must be between 0 and 64, got %d", c.Store.History))
	}
	if c.Store.MaxValueSize < 0 {
		return invalid("store.max_value_size must not be negative")
	}
	if _, err := codec.Parse(c.Store.Encoding); err != nil {
		return err
	}
	if strings.ContainsAny(c.Store.Overrides, "*> ") {
		return invalid(fmt.Sprintf("store.overrides '%s' must be a plain key", c.Store.Overrides))
	}

	if _, err := c.Listen.Options(); err != nil {
		return errors.WrapInvalid(err, "config", "Validate", "listen.source")
	}
	if c.Resolve.Timeout <= 0 {
		return invalid(fmt.Sprintf("resolve.timeout must be positive, got %v", c.Resolve.Timeout))
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Stream.Validate(); err != nil {
		return err
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return invalid(fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid(fmt.Sprintf("metrics.path must start with '/', got %q", c.Metrics.Path))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return invalid(fmt.Sprintf("log.format %q is not one of json, text", c.Log.Format))
	}
	return nil
}

func invalid(action string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", action)
}

// validateTLS checks that configured certificate files exist.
func (c *Config) validateTLS() error {
	tls := c.NATS.TLS
	if !tls.Enabled {
		return nil
	}
	if (tls.CertFile == "") != (tls.KeyFile == "") {
		return invalid("nats.tls.cert_file and nats.tls.key_file must be set together")
	}
	for name, path := range map[string]string{
		"nats.tls.cert_file": tls.CertFile,
		"nats.tls.key_file":  tls.KeyFile,
		"nats.tls.ca_file":   tls.CAFile,
	} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return errors.WrapInvalid(err, "config", "Validate", name)
		}
	}
	return nil
}

// isValidBucketName reports whether s can name a JetStream KV bucket.
func isValidBucketName(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SafeConfig", "Update", "config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}

	// JSON round trip copies the slices too.
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := c.Clone()
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}
