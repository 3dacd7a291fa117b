// Package main implements the docfeed command: a small client that watches,
// queries and writes documents in a NATS JetStream key-value bucket through the
// docfeed feed machinery.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/c360/docfeed/codec"
	"github.com/c360/docfeed/config"
	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/health"
	"github.com/c360/docfeed/metric"
	"github.com/c360/docfeed/natsclient"
	"github.com/c360/docfeed/pkg/retry"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "docfeed"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}

	cfg, err := loadConfig(cli, config.NewLoader())
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Log.Level))
	logger := setupLogger(stderr, level, cfg.Log.Format, cfg.Log.Level == "debug")
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid", "config_path", cli.ConfigPath)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Debug("Starting docfeed",
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"command", cli.Command)

	return execute(ctx, cli, cfg, level, logger, stdout)
}

// loadConfig layers the configuration file, environment and flags, in that
// order, and validates the result.
func loadConfig(cli *CLIConfig, loader *config.Loader) (*config.Config, error) {
	if cli.ConfigPath != "" {
		loader.AddLayer(cli.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.Bucket != "" {
		cfg.Store.Bucket = cli.Bucket
	}
	if cli.Source != "" {
		cfg.Listen.Source = cli.Source
	}
	if cli.IncludeMeta {
		cfg.Listen.IncludeMetadataChanges = true
	}
	if cli.Timeout > 0 {
		cfg.Resolve.Timeout = cli.Timeout
	}
	if cli.Encoding != "" {
		cfg.Store.Encoding = cli.Encoding
	}
	if cli.Schema != "" {
		cfg.Store.Schema = cli.Schema
	}
	if cli.Port > 0 {
		cfg.Stream.Port = cli.Port
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func execute(ctx context.Context, cli *CLIConfig, cfg *config.Config, level *slog.LevelVar,
	logger *slog.Logger, stdout io.Writer,
) error {
	var metricsRegistry *metric.MetricsRegistry
	if cfg.Metrics.Enabled {
		metricsRegistry = metric.NewMetricsRegistry()
	}

	monitor := health.NewMonitor()
	client, err := connectToNATS(ctx, cfg, metricsRegistry, monitor, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("NATS close failed", "error", err)
		}
	}()

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:       cfg.Store.Bucket,
		History:      uint8(cfg.Store.History),
		Replicas:     cfg.Store.Replicas,
		MaxValueSize: int32(cfg.Store.MaxValueSize),
	})
	if err != nil {
		return fmt.Errorf("open bucket %s: %w", cfg.Store.Bucket, err)
	}

	src := client.Source(natsclient.WithSourceLogger(logger))
	defer src.Close()

	if cfg.Store.Overrides != "" {
		manager, err := config.NewConfigManager(cfg, src,
			natsclient.DocRef{Bucket: cfg.Store.Bucket, Key: cfg.Store.Overrides}, logger)
		if err != nil {
			return err
		}
		remove := manager.OnChange(func(next *config.Config) {
			level.Set(parseLevel(next.Log.Level))
		})
		defer remove()
		if err := manager.Start(ctx, cfg.Resolve.Timeout); err != nil {
			return err
		}
		defer manager.Stop()
		cfg = manager.GetConfig().Get()
	}

	listen, err := cfg.Listen.Options()
	if err != nil {
		return err
	}
	encoding, err := codec.Parse(cfg.Store.Encoding)
	if err != nil {
		return err
	}
	var schema *codec.Schema
	if cfg.Store.Schema != "" {
		if schema, err = codec.LoadSchema(cfg.Store.Schema); err != nil {
			return err
		}
	}

	r := &runner{
		src:     src,
		docs:    client.NewKVStore(bucket),
		bucket:  cfg.Store.Bucket,
		listen:  listen,
		timeout: cfg.Resolve.Timeout,
		cache:   cfg.Cache,
		stream:  cfg.Stream,
		metrics: metricsRegistry,
		health:  monitor,
		logger:  logger,

		encoding: encoding,
		schema:   schema,
		out:      stdout,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if metricsRegistry != nil {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		server.SetHealthCheck(func() (bool, any) {
			st := monitor.AggregateHealth(appName)
			return !st.IsUnhealthy(), st
		})
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	g.Go(func() error {
		// The command ending stops the metrics server.
		defer cancel()
		return r.run(gctx, cli)
	})

	if err := g.Wait(); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func clientOptions(cfg *config.Config, registry *metric.MetricsRegistry, monitor *health.Monitor,
	logger *slog.Logger,
) []natsclient.ClientOption {
	n := cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				monitor.Update("nats", health.NewHealthy("nats", "connected"))
				return
			}
			monitor.Update("nats", health.NewUnhealthy("nats", "disconnected"))
		}),
		natsclient.WithName(n.Name),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithCircuitBreakerThreshold(int32(n.CircuitBreakerThreshold)),
		natsclient.WithMaxBackoff(n.MaxBackoff),
		natsclient.WithLogger(natsclient.NewSlogLogger(logger)),
	}
	if n.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(n.ReconnectWait))
	}
	if n.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(n.Timeout))
	}
	if n.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(n.DrainTimeout))
	}
	if n.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if n.Token != "" {
		opts = append(opts, natsclient.WithToken(n.Token))
	}
	if n.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(n.TLS.CertFile, n.TLS.KeyFile, n.TLS.CAFile))
	}
	if registry != nil {
		opts = append(opts,
			natsclient.WithMetrics(registry),
			natsclient.WithMetricsInterval(cfg.Metrics.Interval))
	}
	return opts
}

// connectToNATS connects with retries. An open circuit or a rejected
// configuration ends the attempts early.
func connectToNATS(ctx context.Context, cfg *config.Config, registry *metric.MetricsRegistry,
	monitor *health.Monitor, logger *slog.Logger,
) (*natsclient.Client, error) {
	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","),
		clientOptions(cfg, registry, monitor, logger)...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	policy := retry.Default()
	policy.Retryable = func(err error) bool {
		return !stderrors.Is(err, natsclient.ErrCircuitOpen) && !errors.IsInvalid(err)
	}

	start := time.Now()
	if err := retry.Do(ctx, policy, client.Connect); err != nil {
		monitor.Update("nats", health.FromError("nats", err))
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	logger.Debug("Connected to NATS", "url", client.URL(), "took", time.Since(start))
	return client, nil
}
