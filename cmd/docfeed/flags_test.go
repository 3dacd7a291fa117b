package main

import (
	"bytes"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/docfeed/config"
	"github.com/c360/docfeed/source"
)

func TestParseFlags(t *testing.T) {
	var out bytes.Buffer
	cli, err := parseFlags([]string{
		"--bucket=orders", "--order=revision", "--desc", "--limit=3",
		"--source", "server", "--debug", "query", "eu.>",
	}, &out)
	require.NoError(t, err)
	require.NoError(t, validateFlags(cli))

	assert.Equal(t, "orders", cli.Bucket)
	assert.Equal(t, "revision", cli.OrderBy)
	assert.True(t, cli.Descending)
	assert.Equal(t, 3, cli.Limit)
	assert.Equal(t, "server", cli.Source)
	assert.Equal(t, "debug", cli.LogLevel)
	assert.Equal(t, "query", cli.Command)
	assert.Equal(t, []string{"eu.>"}, cli.Args)
	assert.Equal(t, 10*time.Second, cli.ShutdownTimeout)
}

func TestParseFlags_EnvFallback(t *testing.T) {
	t.Setenv("DOCFEED_CONFIG", "/etc/docfeed/config.yaml")
	t.Setenv("DOCFEED_SHUTDOWN_TIMEOUT", "3s")

	cli, err := parseFlags([]string{"exists", "alice"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "/etc/docfeed/config.yaml", cli.ConfigPath)
	assert.Equal(t, 3*time.Second, cli.ShutdownTimeout)
}

func TestParseFlags_Help(t *testing.T) {
	var out bytes.Buffer
	_, err := parseFlags([]string{"-h"}, &out)
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, out.String(), "Commands:")
	assert.Contains(t, out.String(), "-bucket")
}

func TestValidateFlags(t *testing.T) {
	valid := func() *CLIConfig {
		return &CLIConfig{OrderBy: "key", ShutdownTimeout: time.Second, Command: "watch", Args: []string{"alice"}}
	}

	tests := []struct {
		name   string
		mutate func(*CLIConfig)
		ok     bool
	}{
		{"valid", func(*CLIConfig) {}, true},
		{"version skips checks", func(c *CLIConfig) { c.ShowVersion = true; c.Command = "" }, true},
		{"validate needs no command", func(c *CLIConfig) { c.Validate = true; c.Command = "" }, true},
		{"bad log level", func(c *CLIConfig) { c.LogLevel = "trace" }, false},
		{"bad log format", func(c *CLIConfig) { c.LogFormat = "xml" }, false},
		{"bad source", func(c *CLIConfig) { c.Source = "edge" }, false},
		{"bad order", func(c *CLIConfig) { c.OrderBy = "size" }, false},
		{"negative limit", func(c *CLIConfig) { c.Limit = -1 }, false},
		{"negative timeout", func(c *CLIConfig) { c.Timeout = -time.Second }, false},
		{"zero shutdown timeout", func(c *CLIConfig) { c.ShutdownTimeout = 0 }, false},
		{"missing command", func(c *CLIConfig) { c.Command = "" }, false},
		{"unknown command", func(c *CLIConfig) { c.Command = "tail" }, false},
		{"watch without key", func(c *CLIConfig) { c.Args = nil }, false},
		{"query without pattern", func(c *CLIConfig) { c.Command = "query"; c.Args = nil }, true},
		{"query with two patterns", func(c *CLIConfig) { c.Command = "query"; c.Args = []string{"a", "b"} }, false},
		{"get many keys", func(c *CLIConfig) { c.Command = "get"; c.Args = []string{"a", "b"} }, true},
		{"get no keys", func(c *CLIConfig) { c.Command = "get"; c.Args = nil }, false},
		{"put without body", func(c *CLIConfig) { c.Command = "put" }, false},
		{"put", func(c *CLIConfig) { c.Command = "put"; c.Args = []string{"a", "{}"} }, true},
		{"serve", func(c *CLIConfig) { c.Command = "serve"; c.Args = nil }, true},
		{"serve with args", func(c *CLIConfig) { c.Command = "serve" }, false},
		{"bad encoding", func(c *CLIConfig) { c.Encoding = "xml" }, false},
		{"bad port", func(c *CLIConfig) { c.Port = 70000 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli := valid()
			tt.mutate(cli)
			err := validateFlags(cli)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docfeed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  bucket: fromfile\nlog:\n  level: warn\n"), 0600))

	cli := &CLIConfig{
		ConfigPath:  path,
		Bucket:      "fromflag",
		Source:      "cache",
		IncludeMeta: true,
		Timeout:     time.Second,
		LogFormat:   "text",
		Encoding:    "cbor",
		Schema:      "user.schema.json",
		Port:        8181,
	}
	cfg, err := loadConfig(cli, config.NewLoader())
	require.NoError(t, err)

	assert.Equal(t, "fromflag", cfg.Store.Bucket)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, time.Second, cfg.Resolve.Timeout)
	assert.Equal(t, "cbor", cfg.Store.Encoding)
	assert.Equal(t, "user.schema.json", cfg.Store.Schema)
	assert.Equal(t, 8181, cfg.Stream.Port)

	listen, err := cfg.Listen.Options()
	require.NoError(t, err)
	assert.Equal(t, source.ListenOptions{IncludeMetadataChanges: true, Source: source.PreferCache}, listen)
}

func TestLoadConfig_RejectsInvalidResult(t *testing.T) {
	_, err := loadConfig(&CLIConfig{Bucket: "has.dots"}, config.NewLoader())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRun_VersionAndValidate(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"--version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "docfeed version "+Version)

	stdout.Reset()
	require.NoError(t, run([]string{"--validate", "--log-format=text"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Configuration is valid")
	slog.SetDefault(slog.New(slog.DiscardHandler))
}

func TestSetupLogger_LevelIsLive(t *testing.T) {
	var out bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := setupLogger(&out, level, "json", false)

	logger.Info("hidden")
	level.Set(parseLevel("debug"))
	logger.Debug("shown")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), `"msg":"shown"`)
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), `"service":"docfeed"`)
}
