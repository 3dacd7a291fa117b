package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/docfeed/codec"
	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/feed"
	"github.com/c360/docfeed/health"
	"github.com/c360/docfeed/metric"
	"github.com/c360/docfeed/natsclient"
	"github.com/c360/docfeed/pkg/cache"
	"github.com/c360/docfeed/querycache"
	"github.com/c360/docfeed/resolve"
	"github.com/c360/docfeed/source"
	"github.com/c360/docfeed/state"
	"github.com/c360/docfeed/stream"
	"github.com/c360/docfeed/watch"
)

// documentWriter is the write side of the document bucket.
type documentWriter interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
}

// runner executes one CLI command against a document source.
type runner struct {
	src     source.Source
	docs    documentWriter
	bucket  string
	listen  source.ListenOptions
	timeout time.Duration
	cache   cache.Config
	stream  stream.Config
	metrics *metric.MetricsRegistry
	health  *health.Monitor
	logger  *slog.Logger

	// encoding is how bodies are stored; output is always JSON.
	encoding codec.Encoding
	schema   *codec.Schema

	outMu sync.Mutex
	out   io.Writer
}

func (r *runner) run(ctx context.Context, cli *CLIConfig) error {
	switch cli.Command {
	case "watch":
		return r.watch(ctx, cli.Args[0])
	case "query":
		q := natsclient.DocQuery{
			Bucket:     r.bucket,
			Descending: cli.Descending,
			Limit:      cli.Limit,
		}
		if len(cli.Args) == 1 {
			q.Pattern = cli.Args[0]
		}
		if cli.OrderBy == "revision" {
			q.OrderBy = natsclient.OrderByRevision
		}
		return r.query(ctx, q)
	case "exists":
		return r.exists(ctx, cli.Args[0])
	case "get":
		return r.get(ctx, cli.Args)
	case "put":
		return r.put(ctx, cli.Args[0], cli.Args[1])
	case "delete":
		return r.delete(ctx, cli.Args[0])
	case "serve":
		return r.serve(ctx)
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cli", "run", "unknown command "+cli.Command)
	}
}

func (r *runner) print(v any) error {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	return json.NewEncoder(r.out).Encode(v)
}

func (r *runner) decoder() state.Decoder[json.RawMessage] {
	return codec.RawJSON(r.encoding)
}

func (r *runner) watchOptions() []watch.Option {
	return []watch.Option{
		watch.WithListenOptions(r.listen),
		watch.WithLogger(r.logger),
		watch.WithMetrics(r.metrics.CoreMetrics()),
	}
}

// follow prints every state of f until ctx ends or the feed finishes.
func follow[S any](ctx context.Context, f *feed.Feed[S], print func(S) error) error {
	done := make(chan error, 1)
	var once sync.Once
	finish := func(err error) {
		once.Do(func() { done <- err })
	}

	cancel := f.Subscribe(feed.Observer[S]{
		Next: func(st S) {
			if err := print(st); err != nil {
				finish(err)
			}
		},
		Done: finish,
	})
	defer cancel()

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		if stderrors.Is(err, errors.ErrFeedCompleted) || stderrors.Is(err, errors.ErrFeedClosed) {
			return nil
		}
		return err
	}
}

func (r *runner) watch(ctx context.Context, key string) error {
	ref := natsclient.DocRef{Bucket: r.bucket, Key: key}
	w := watch.WatchItem(r.src, ref, r.decoder(),
		state.Listener[state.ItemState[json.RawMessage]]{}, r.watchOptions()...)
	defer w.Close()
	if r.health != nil {
		defer health.Track(r.health, "watch "+ref.Path(), w.Feed(), health.ItemStatus[json.RawMessage])()
	}

	return follow(ctx, w.Feed(), func(st state.ItemState[json.RawMessage]) error {
		return r.print(stream.NewItemMessage(key, st))
	})
}

func (r *runner) query(ctx context.Context, q natsclient.DocQuery) error {
	w := watch.WatchCollection(r.src, q, r.decoder(),
		state.Listener[state.CollectionState[json.RawMessage]]{}, r.watchOptions()...)
	defer w.Close()
	if r.health != nil {
		defer health.Track(r.health, "query "+q.String(), w.Feed(), health.CollectionStatus[json.RawMessage])()
	}

	return follow(ctx, w.Feed(), func(st state.CollectionState[json.RawMessage]) error {
		return r.print(stream.NewCollectionMessage(st))
	})
}

func (r *runner) exists(ctx context.Context, key string) error {
	ok, err := resolve.DocumentExists(ctx, r.src, natsclient.DocRef{Bucket: r.bucket, Key: key},
		resolve.WithTimeout(r.timeout),
		resolve.WithMetrics(r.metrics.CoreMetrics()),
		resolve.WithWatchOptions(r.watchOptions()...))
	if err != nil {
		return err
	}
	return r.print(stream.ItemMessage{Status: state.StatusResolved.String(), Key: key, Exists: &ok})
}

// get reads every key through one query cache, so repeated keys share a feed.
func (r *runner) get(ctx context.Context, keys []string) error {
	opts := []querycache.Option{
		querycache.WithCacheConfig(r.cache),
		querycache.WithResolveTimeout(r.timeout),
		querycache.WithListenOptions(r.listen),
		querycache.WithLogger(r.logger),
	}
	if r.metrics != nil {
		opts = append(opts, querycache.WithMetrics(r.metrics, "cli"))
	}

	items, err := querycache.NewItems(ctx, r.src, r.decoder(), opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := items.Close(); cerr != nil {
			r.logger.Warn("Closing document cache failed", "error", cerr)
		}
	}()

	for _, key := range keys {
		v, err := items.Fetch(ctx, key, natsclient.DocRef{Bucket: r.bucket, Key: key})
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		exists := v != nil
		line := stream.ItemMessage{Status: state.StatusResolved.String(), Key: key, Exists: &exists}
		if exists {
			line.Data = *v
		}
		if err := r.print(line); err != nil {
			return err
		}
	}
	return nil
}

// put validates a JSON body and stores it in the configured encoding.
func (r *runner) put(ctx context.Context, key, body string) error {
	stored, err := codec.FromJSON(r.encoding, []byte(body))
	if err != nil {
		return err
	}
	if err := r.schema.Validate([]byte(body)); err != nil {
		return err
	}
	rev, err := r.docs.Put(ctx, key, stored)
	if err != nil {
		return err
	}
	r.logger.Debug("Document written", "key", key, "revision", rev, "bytes", len(stored))
	return r.print(stream.ItemMessage{Status: "written", Key: key, Revision: rev})
}

func (r *runner) delete(ctx context.Context, key string) error {
	if err := r.docs.Delete(ctx, key); err != nil {
		return err
	}
	return r.print(stream.ItemMessage{Status: "deleted", Key: key})
}

// serve streams feeds to websocket clients until ctx ends.
func (r *runner) serve(ctx context.Context) error {
	opts := []stream.Option{
		stream.WithLogger(r.logger),
		stream.WithHealth(r.health),
		stream.WithListenOptions(r.listen),
		stream.WithDecoder(r.decoder()),
	}
	if r.metrics != nil {
		opts = append(opts, stream.WithMetrics(r.metrics))
	}
	s, err := stream.NewServer(r.src, r.bucket, r.stream, opts...)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}
