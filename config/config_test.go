package config

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/source"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.Resolve.Timeout)
	assert.Equal(t, "docs", cfg.Store.Bucket)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no nats urls", func(c *Config) { c.NATS.URLs = nil }},
		{"blank nats url", func(c *Config) { c.NATS.URLs = []string{" "} }},
		{"negative timeout", func(c *Config) { c.NATS.Timeout = -time.Second }},
		{"negative breaker threshold", func(c *Config) { c.NATS.CircuitBreakerThreshold = -1 }},
		{"tls key without cert", func(c *Config) { c.NATS.TLS = NATSTLSConfig{Enabled: true, KeyFile: "k.pem"} }},
		{"tls cert missing on disk", func(c *Config) {
			c.NATS.TLS = NATSTLSConfig{Enabled: true, CertFile: "/nonexistent/c.pem", KeyFile: "/nonexistent/k.pem"}
		}},
		{"no bucket", func(c *Config) { c.Store.Bucket = "" }},
		{"bucket with dots", func(c *Config) { c.Store.Bucket = "docs.users" }},
		{"history too large", func(c *Config) { c.Store.History = 65 }},
		{"wildcard overrides key", func(c *Config) { c.Store.Overrides = "config.>" }},
		{"unknown listen source", func(c *Config) { c.Listen.Source = "edge" }},
		{"zero resolve timeout", func(c *Config) { c.Resolve.Timeout = 0 }},
		{"negative cache size", func(c *Config) { c.Cache.MaxEntries = -1 }},
		{"unknown encoding", func(c *Config) { c.Store.Encoding = "msgpack" }},
		{"zero stream queue", func(c *Config) { c.Stream.QueueSize = 0 }},
		{"zero stream rate", func(c *Config) { c.Stream.RateLimit = 0 }},
		{"metrics port out of range", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Port = 70000 }},
		{"metrics path without slash", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "metrics" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "trace" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "got %v", err)
		})
	}
}

func TestListenConfig_Options(t *testing.T) {
	opts, err := ListenConfig{IncludeMetadataChanges: true, Source: "cache"}.Options()
	require.NoError(t, err)
	assert.Equal(t, source.ListenOptions{IncludeMetadataChanges: true, Source: source.PreferCache}, opts)

	opts, err = ListenConfig{}.Options()
	require.NoError(t, err)
	assert.Equal(t, source.PreferDefault, opts.Source)
}

func TestConfig_CloneIsDeep(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.NATS.URLs[0] = "nats://elsewhere:4222"
	clone.Cache.TTL = time.Hour

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URLs[0])
	assert.Zero(t, cfg.Cache.TTL)
	assert.Equal(t, time.Minute, clone.Cache.CleanupInterval)
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "s3cr3t"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cr3t")
	assert.Equal(t, "hunter2", cfg.NATS.Password, "original untouched")
}

func TestSafeConfig_UpdateValidates(t *testing.T) {
	sc := NewSafeConfig(nil)

	bad := Default()
	bad.Store.Bucket = ""
	assert.Error(t, sc.Update(bad))
	assert.Error(t, sc.Update(nil))
	assert.Equal(t, "docs", sc.Get().Store.Bucket)

	good := Default()
	good.Store.Bucket = "users"
	require.NoError(t, sc.Update(good))
	assert.Equal(t, "users", sc.Get().Store.Bucket)
}

func TestSafeConfig_GetReturnsCopy(t *testing.T) {
	sc := NewSafeConfig(Default())
	sc.Get().Store.Bucket = "mutated"
	assert.Equal(t, "docs", sc.Get().Store.Bucket)
}

func TestSafeConfig_ThreadSafety(t *testing.T) {
	sc := NewSafeConfig(Default())

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if i%2 == 0 {
					cfg := Default()
					cfg.Store.Bucket = fmt.Sprintf("bucket-%d", i)
					if err := sc.Update(cfg); err != nil {
						errs <- err
						return
					}
					continue
				}
				if sc.Get().Store.Bucket == "" {
					errs <- fmt.Errorf("empty bucket read")
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
