package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	Bucket          string
	Source          string
	IncludeMeta     bool
	Timeout         time.Duration
	ShutdownTimeout time.Duration
	OrderBy         string
	Descending      bool
	Limit           int
	Encoding        string
	Schema          string
	Port            int
	ShowVersion     bool
	Validate        bool

	// Command is the first positional argument, Args the rest.
	Command string
	Args    []string
}

var commands = []string{"watch", "query", "exists", "get", "put", "delete", "serve"}

func parseFlags(args []string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	// Define flags with environment variable fallback
	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("DOCFEED_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: DOCFEED_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("DOCFEED_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: DOCFEED_CONFIG)")

	// Empty log settings defer to the configuration file.
	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (env: DOCFEED_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (env: DOCFEED_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("DOCFEED_DEBUG", false),
		"Enable debug logging (env: DOCFEED_DEBUG)")

	fs.StringVar(&cfg.Bucket, "bucket", "",
		"Document bucket, overrides the configuration (env: DOCFEED_BUCKET)")

	fs.StringVar(&cfg.Source, "source", "",
		"Snapshot source: default, server, cache (env: DOCFEED_LISTEN_SOURCE)")

	fs.BoolVar(&cfg.IncludeMeta, "include-metadata", false,
		"Deliver metadata-only changes")

	fs.DurationVar(&cfg.Timeout, "timeout", 0,
		"Resolve timeout for exists and get, overrides the configuration")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("DOCFEED_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: DOCFEED_SHUTDOWN_TIMEOUT)")

	fs.StringVar(&cfg.OrderBy, "order", "key", "Query ordering: key, revision")
	fs.BoolVar(&cfg.Descending, "desc", false, "Sort query results in descending order")
	fs.IntVar(&cfg.Limit, "limit", 0, "Maximum query results, 0 for no limit")

	fs.StringVar(&cfg.Encoding, "encoding", "",
		"Stored document encoding: json, cbor (env: DOCFEED_ENCODING)")
	fs.StringVar(&cfg.Schema, "schema", "",
		"JSON Schema file that put validates bodies against (env: DOCFEED_SCHEMA)")
	fs.IntVar(&cfg.Port, "port", 0, "Websocket port for serve, overrides the configuration")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	// Custom usage, shown for -h and -help
	fs.Usage = func() {
		printDetailedHelp(output, fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if rest := fs.Args(); len(rest) > 0 {
		cfg.Command = rest[0]
		cfg.Args = rest[1:]
	}

	// Override log level if debug is set
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion {
		return nil
	}

	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.Source != "" && !slices.Contains([]string{"default", "server", "cache"}, cfg.Source) {
		return fmt.Errorf("invalid source: %s", cfg.Source)
	}
	if !slices.Contains([]string{"key", "revision"}, cfg.OrderBy) {
		return fmt.Errorf("invalid order: %s", cfg.OrderBy)
	}
	if cfg.Encoding != "" && !slices.Contains([]string{"json", "cbor"}, cfg.Encoding) {
		return fmt.Errorf("invalid encoding: %s", cfg.Encoding)
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Limit < 0 {
		return fmt.Errorf("invalid limit: %d", cfg.Limit)
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("invalid timeout: %v", cfg.Timeout)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}

	if cfg.Validate {
		return nil
	}
	if cfg.Command == "" {
		return fmt.Errorf("missing command, want one of %v", commands)
	}
	if !slices.Contains(commands, cfg.Command) {
		return fmt.Errorf("unknown command: %s", cfg.Command)
	}
	return validateArgs(cfg.Command, cfg.Args)
}

func validateArgs(command string, args []string) error {
	switch command {
	case "watch", "exists", "delete":
		if len(args) != 1 {
			return fmt.Errorf("%s takes exactly one key", command)
		}
	case "query":
		if len(args) > 1 {
			return fmt.Errorf("query takes at most one pattern")
		}
	case "get":
		if len(args) == 0 {
			return fmt.Errorf("get takes at least one key")
		}
	case "put":
		if len(args) != 2 {
			return fmt.Errorf("put takes a key and a JSON body")
		}
	case "serve":
		if len(args) != 0 {
			return fmt.Errorf("serve takes no arguments")
		}
	}
	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - live document feeds over NATS JetStream KV

Usage: %s [options] <command> [args]

Commands:
  watch <key>          Print every state of one document as a JSON line
  query [pattern]      Print every state of the documents matching pattern
  exists <key>         Print whether the document exists
  get <key>...         Print the current value of each document
  put <key> <json>     Write a document
  delete <key>         Delete a document
  serve                Stream document states to websocket clients
                       (ws://host:port/watch?key=..., /query?pattern=...)

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Follow a document with text logs
  %s --log-format=text watch users.alice

  # Newest ten orders, replayed from the bucket only
  %s --bucket=orders --order=revision --desc --limit=10 --source=cache query 'eu.>'

  # Run with environment variables
  export DOCFEED_CONFIG=/etc/docfeed/config.yaml
  export DOCFEED_NATS_URLS=nats://nats:4222
  %s get users.alice users.bob

  # Serve feeds of CBOR documents on port 8081
  %s --encoding=cbor --port=8081 serve

  # Validate configuration only
  %s --validate

Version: %s
Build: %s
`, appName, appName, appName, appName, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
