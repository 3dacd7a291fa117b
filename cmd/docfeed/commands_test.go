package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/docfeed/codec"
	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/health"
	"github.com/c360/docfeed/metric"
	"github.com/c360/docfeed/natsclient"
	"github.com/c360/docfeed/pkg/cache"
	"github.com/c360/docfeed/source"
	"github.com/c360/docfeed/source/sourcetest"
	"github.com/c360/docfeed/stream"
)

type memWriter struct {
	mu      sync.Mutex
	docs    map[string][]byte
	rev     uint64
	failPut error
}

func newMemWriter() *memWriter {
	return &memWriter{docs: map[string][]byte{}}
}

func (m *memWriter) Put(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return 0, m.failPut
	}
	m.rev++
	m.docs[key] = value
	return m.rev, nil
}

func (m *memWriter) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, key)
	return nil
}

// syncBuffer lets a test read output while a command is still writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newRunner(src source.Source, out io.Writer) *runner {
	return &runner{
		src:     src,
		docs:    newMemWriter(),
		bucket:  "users",
		timeout: time.Second,
		cache:   cache.DefaultConfig(),
		logger:  slog.New(slog.DiscardHandler),
		out:     out,
	}
}

func lines(t *testing.T, out fmt.Stringer) []map[string]any {
	t.Helper()
	var got []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m), l)
		got = append(got, m)
	}
	return got
}

// serveUsers answers every item subscription from docs, keyed by document key.
func serveUsers(docs map[string]string) *sourcetest.Fake {
	src := sourcetest.New()
	src.OnItemSubscribe = func(sub *sourcetest.Subscription[source.ItemSnapshot]) {
		ref := sub.Key.(natsclient.DocRef)
		if body, ok := docs[ref.Key]; ok {
			sub.Emit(sourcetest.Item(ref.Path(), body))
			return
		}
		sub.Emit(sourcetest.Missing(ref.Path()))
	}
	return src
}

func TestRunner_WatchPrintsUntilCompletion(t *testing.T) {
	src := sourcetest.New()
	src.OnItemSubscribe = func(sub *sourcetest.Subscription[source.ItemSnapshot]) {
		sub.Emit(sourcetest.Item("users/alice", `{"name": "alice"}`))
		sub.Complete()
	}

	var out bytes.Buffer
	r := newRunner(src, &out)
	require.NoError(t, r.run(context.Background(), &CLIConfig{Command: "watch", Args: []string{"alice"}}))

	got := lines(t, &out)
	require.Len(t, got, 1)
	assert.Equal(t, "resolved", got[0]["status"])
	assert.Equal(t, "alice", got[0]["key"])
	assert.Equal(t, true, got[0]["exists"])
	assert.Equal(t, map[string]any{"name": "alice"}, got[0]["data"])

	sub := src.LastItem()
	assert.Equal(t, natsclient.DocRef{Bucket: "users", Key: "alice"}, sub.Key)
	assert.Equal(t, 1, sub.Unsubscribed())
}

func TestRunner_WatchFollowsChangesUntilCancelled(t *testing.T) {
	src := sourcetest.New()
	out := &syncBuffer{}
	r := newRunner(src, out)
	r.health = health.NewMonitor()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.watch(ctx, "alice")
	}()

	// The loading line means the printer is subscribed.
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "loading") }, time.Second, time.Millisecond)
	sub := src.LastItem()
	sub.Emit(sourcetest.Missing("users/alice"))
	sub.Emit(sourcetest.Item("users/alice", `{"name": "alice"}`))
	sub.Emit(sourcetest.Missing("users/alice"))

	st, ok := r.health.Get("watch users/alice")
	require.True(t, ok)
	assert.True(t, st.IsHealthy())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, sub.Unsubscribed())
	assert.Zero(t, r.health.Count(), "finished watch stops reporting")

	got := lines(t, out)
	statuses := make([]any, 0, len(got))
	exists := make([]any, 0, len(got))
	for _, l := range got {
		statuses = append(statuses, l["status"])
		exists = append(exists, l["exists"])
	}
	assert.Equal(t, []any{"loading", "resolved", "resolved", "resolved"}, statuses)
	assert.Equal(t, []any{nil, false, true, false}, exists)
}

func TestRunner_WatchReturnsWriteErrors(t *testing.T) {
	src := sourcetest.New()
	src.OnItemSubscribe = func(sub *sourcetest.Subscription[source.ItemSnapshot]) {
		sub.Emit(sourcetest.Item("users/alice", `{}`))
	}
	r := newRunner(src, nil)
	r.out = failingWriter{}

	err := r.watch(context.Background(), "alice")
	assert.ErrorIs(t, err, errWrite)
}

var errWrite = errors.ErrConnectionLost

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errWrite }

func TestRunner_Query(t *testing.T) {
	src := sourcetest.New()
	src.OnCollectionSubscribe = func(sub *sourcetest.Subscription[source.CollectionSnapshot]) {
		sub.Emit(sourcetest.Docs(
			sourcetest.Item("users/alice", `{"n": 1}`),
			sourcetest.Item("users/bob", `{"n": 2}`),
		))
		sub.Complete()
	}

	var out bytes.Buffer
	r := newRunner(src, &out)
	cli := &CLIConfig{Command: "query", Args: []string{"eu.>"}, OrderBy: "revision", Descending: true, Limit: 5}
	require.NoError(t, r.run(context.Background(), cli))

	got := lines(t, &out)
	require.Len(t, got, 1)
	assert.Equal(t, "resolved", got[0]["status"])
	assert.EqualValues(t, 2, got[0]["size"])
	assert.Equal(t, []any{map[string]any{"n": float64(1)}, map[string]any{"n": float64(2)}}, got[0]["data"])

	assert.Equal(t, natsclient.DocQuery{
		Bucket:     "users",
		Pattern:    "eu.>",
		OrderBy:    natsclient.OrderByRevision,
		Descending: true,
		Limit:      5,
	}, src.LastCollection().Key)
}

func TestRunner_Exists(t *testing.T) {
	src := serveUsers(map[string]string{"alice": `{}`})
	var out bytes.Buffer
	r := newRunner(src, &out)

	require.NoError(t, r.exists(context.Background(), "alice"))
	require.NoError(t, r.exists(context.Background(), "bob"))

	got := lines(t, &out)
	require.Len(t, got, 2)
	assert.Equal(t, true, got[0]["exists"])
	assert.Equal(t, false, got[1]["exists"])
	assert.Equal(t, 2, src.Unsubscribes(), "every resolve releases its watch")
}

func TestRunner_ExistsTimesOut(t *testing.T) {
	r := newRunner(sourcetest.New(), &bytes.Buffer{})
	r.timeout = 10 * time.Millisecond

	err := r.exists(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrResolveTimeout)
}

func TestRunner_GetSharesFeedsForRepeatedKeys(t *testing.T) {
	src := serveUsers(map[string]string{"alice": `{"name": "alice"}`})
	var out bytes.Buffer
	r := newRunner(src, &out)
	r.metrics = metric.NewMetricsRegistry()

	require.NoError(t, r.get(context.Background(), []string{"alice", "bob", "alice"}))

	got := lines(t, &out)
	require.Len(t, got, 3)
	assert.Equal(t, map[string]any{"name": "alice"}, got[0]["data"])
	assert.Equal(t, false, got[1]["exists"])
	assert.Nil(t, got[1]["data"])
	assert.Equal(t, got[0], got[2])

	assert.Equal(t, 2, src.Subscribes())
	assert.Equal(t, 2, src.Unsubscribes(), "closing the cache tears down every feed")
	assert.Equal(t, float64(0), testutil.ToFloat64(r.metrics.CoreMetrics().RegistryEntries))
}

func TestRunner_GetFailsOnErrorState(t *testing.T) {
	src := sourcetest.New()
	src.OnItemSubscribe = func(sub *sourcetest.Subscription[source.ItemSnapshot]) {
		sub.Fail(errors.ErrPermissionDenied)
	}
	r := newRunner(src, &bytes.Buffer{})

	err := r.get(context.Background(), []string{"alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get alice")
}

func TestRunner_PutAndDelete(t *testing.T) {
	var out bytes.Buffer
	r := newRunner(sourcetest.New(), &out)
	docs := r.docs.(*memWriter)

	require.NoError(t, r.run(context.Background(), &CLIConfig{Command: "put", Args: []string{"alice", `{"name":"alice"}`}}))
	assert.Equal(t, []byte(`{"name":"alice"}`), docs.docs["alice"])

	require.NoError(t, r.run(context.Background(), &CLIConfig{Command: "delete", Args: []string{"alice"}}))
	assert.NotContains(t, docs.docs, "alice")

	got := lines(t, &out)
	require.Len(t, got, 2)
	assert.Equal(t, "written", got[0]["status"])
	assert.EqualValues(t, 1, got[0]["revision"])
	assert.Equal(t, "deleted", got[1]["status"])
}

func TestRunner_PutRejectsInvalidJSON(t *testing.T) {
	r := newRunner(sourcetest.New(), &bytes.Buffer{})
	err := r.put(context.Background(), "alice", `{"name":`)
	assert.True(t, errors.IsInvalid(err))
	assert.Empty(t, r.docs.(*memWriter).docs)
}

func TestRunner_PutPropagatesStoreErrors(t *testing.T) {
	r := newRunner(sourcetest.New(), &bytes.Buffer{})
	r.docs.(*memWriter).failPut = errors.ErrConnectionLost

	err := r.put(context.Background(), "alice", `{}`)
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
}

func TestRunner_PutStoresCBORAndWatchRendersJSON(t *testing.T) {
	var out bytes.Buffer
	r := newRunner(sourcetest.New(), &out)
	r.encoding = codec.CBOR

	require.NoError(t, r.put(context.Background(), "alice", `{"name":"alice","age":36}`))
	stored := r.docs.(*memWriter).docs["alice"]
	assert.False(t, json.Valid(stored), "body is stored as CBOR")

	src := sourcetest.New()
	src.OnItemSubscribe = func(sub *sourcetest.Subscription[source.ItemSnapshot]) {
		sub.Emit(sourcetest.Item("users/alice", string(stored)))
		sub.Complete()
	}
	r.src = src
	out.Reset()
	require.NoError(t, r.watch(context.Background(), "alice"))

	got := lines(t, &out)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"name": "alice", "age": float64(36)}, got[0]["data"])
}

func TestRunner_PutValidatesSchema(t *testing.T) {
	schema, err := codec.NewSchema([]byte(`{"type":"object","required":["name"]}`))
	require.NoError(t, err)
	r := newRunner(sourcetest.New(), &bytes.Buffer{})
	r.schema = schema

	err = r.put(context.Background(), "alice", `{"age":1}`)
	assert.True(t, errors.IsInvalid(err))
	assert.Empty(t, r.docs.(*memWriter).docs)

	require.NoError(t, r.put(context.Background(), "alice", `{"name":"alice"}`))
}

func TestRunner_ServeStopsWithContext(t *testing.T) {
	r := newRunner(sourcetest.New(), &bytes.Buffer{})
	r.stream = stream.DefaultConfig()
	r.stream.Port = 0
	r.metrics = metric.NewMetricsRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop")
	}
}
