package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/docfeed/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCFEED"

// durationPaths lists the fields that accept duration strings such as "5s" or "14d".
var durationPaths = [][]string{
	{"nats", "reconnect_wait"},
	{"nats", "timeout"},
	{"nats", "drain_timeout"},
	{"nats", "max_backoff"},
	{"resolve", "timeout"},
	{"cache", "ttl"},
	{"cache", "cleanup_interval"},
	{"stream", "write_timeout"},
	{"stream", "ping_interval"},
	{"metrics", "interval"},
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  EnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every file layer and the environment, in that order.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		cfg, err = Merge(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "merge "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRaw reads a JSON or YAML file into a map with durations converted.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Merge returns base with the fields present in override replaced. Nested
// objects are merged key by key; null values are ignored.
func Merge(base *Config, override map[string]any) (*Config, error) {
	if len(override) == 0 {
		return base.Clone(), nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	for _, path := range durationPaths {
		section, ok := data[path[0]].(map[string]any)
		if !ok {
			continue
		}
		s, ok := section[path[1]].(string)
		if !ok {
			continue
		}
		d, err := parseDurationWithDays(s)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", path[0], path[1], err)
		}
		section[path[1]] = d.Nanoseconds()
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	var firstErr error
	env := func(name string) (string, bool) {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return "", false
		}
		if err := validateEnvVar(key, val); err != nil {
			if firstErr == nil {
				firstErr = errors.WrapInvalid(err, "Loader", "applyEnvOverrides", key)
			}
			return "", false
		}
		return val, true
	}
	duration := func(name string, dst *time.Duration) {
		if val, ok := env(name); ok {
			d, err := parseDurationWithDays(val)
			if err != nil {
				if firstErr == nil {
					firstErr = errors.WrapInvalid(err, "Loader", "applyEnvOverrides", l.envPrefix+"_"+name)
				}
				return
			}
			*dst = d
		}
	}
	integer := func(name string, dst *int) {
		if val, ok := env(name); ok {
			n, err := strconv.Atoi(val)
			if err != nil {
				if firstErr == nil {
					firstErr = errors.WrapInvalid(err, "Loader", "applyEnvOverrides", l.envPrefix+"_"+name)
				}
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if val, ok := env(name); ok {
			b, err := strconv.ParseBool(val)
			if err != nil {
				if firstErr == nil {
					firstErr = errors.WrapInvalid(err, "Loader", "applyEnvOverrides", l.envPrefix+"_"+name)
				}
				return
			}
			*dst = b
		}
	}

	// NATS overrides
	if val, ok := env("NATS_URLS"); ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val, ok := env("NATS_USERNAME"); ok {
		cfg.NATS.Username = val
	}
	if val, ok := env("NATS_PASSWORD"); ok {
		cfg.NATS.Password = val
	}
	if val, ok := env("NATS_TOKEN"); ok {
		cfg.NATS.Token = val
	}
	duration("NATS_TIMEOUT", &cfg.NATS.Timeout)

	// Store and feeds
	if val, ok := env("BUCKET"); ok {
		cfg.Store.Bucket = val
	}
	if val, ok := env("OVERRIDES"); ok {
		cfg.Store.Overrides = val
	}
	if val, ok := env("LISTEN_SOURCE"); ok {
		cfg.Listen.Source = val
	}
	boolean("LISTEN_INCLUDE_METADATA", &cfg.Listen.IncludeMetadataChanges)
	duration("RESOLVE_TIMEOUT", &cfg.Resolve.Timeout)

	// Cache
	integer("CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries)
	duration("CACHE_TTL", &cfg.Cache.TTL)

	if val, ok := env("ENCODING"); ok {
		cfg.Store.Encoding = val
	}
	if val, ok := env("SCHEMA"); ok {
		cfg.Store.Schema = val
	}

	// Stream server
	integer("STREAM_PORT", &cfg.Stream.Port)
	integer("STREAM_QUEUE_SIZE", &cfg.Stream.QueueSize)

	// Metrics and logging
	boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	integer("METRICS_PORT", &cfg.Metrics.Port)
	if val, ok := env("LOG_LEVEL"); ok {
		cfg.Log.Level = val
	}
	if val, ok := env("LOG_FORMAT"); ok {
		cfg.Log.Format = val
	}

	return firstErr
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}
