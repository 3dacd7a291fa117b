//go:build integration

package natsclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/docfeed/metric"
	"github.com/c360/docfeed/source"
)

func TestIntegration_KVSourceItem(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("docs"))
	ctx := context.Background()

	kv, err := tc.KVStore(ctx, "docs")
	require.NoError(t, err)

	src := tc.Client.Source()
	defer src.Close()

	ev := make(events, 16)
	defer src.SubscribeToItem(DocRef{Bucket: "docs", Key: "users.1"}, source.ListenOptions{}, ev.item())()

	missing := ev.next(t)
	require.Equal(t, "next", missing.kind)
	assert.False(t, missing.item.Exists())

	_, err = kv.Put(ctx, "users.1", []byte(`{"name":"ada"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"name":"ada"}`, body(t, ev.next(t).item))

	require.NoError(t, kv.Delete(ctx, "users.1"))
	assert.False(t, ev.next(t).item.Exists())
}

func TestIntegration_KVSourceCollection(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("docs"))
	ctx := context.Background()

	kv, err := tc.KVStore(ctx, "docs")
	require.NoError(t, err)
	for _, k := range []string{"users.b", "users.a", "orders.1"} {
		_, err := kv.Put(ctx, k, []byte(`{}`))
		require.NoError(t, err)
	}

	src := tc.Client.Source()
	defer src.Close()

	ev := make(events, 16)
	q := DocQuery{Bucket: "docs", Pattern: "users.*"}
	defer src.SubscribeToCollection(q, source.ListenOptions{}, ev.collection())()

	assert.Equal(t, []string{"users.a", "users.b"}, keys(ev.next(t).coll))

	_, err = kv.Put(ctx, "users.c", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"users.a", "users.b", "users.c"}, keys(ev.next(t).coll))
}

func TestIntegration_KVSourcePreferCache(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("docs"))
	ctx := context.Background()

	kv, err := tc.KVStore(ctx, "docs")
	require.NoError(t, err)
	_, err = kv.Put(ctx, "users.1", []byte(`{}`))
	require.NoError(t, err)

	src := tc.Client.Source()
	defer src.Close()

	ev := make(events, 16)
	opts := source.ListenOptions{Source: source.PreferCache}
	src.SubscribeToItem(DocRef{Bucket: "docs", Key: "users.1"}, opts, ev.item())

	assert.True(t, ev.next(t).item.Exists())
	assert.Equal(t, "complete", ev.next(t).kind)
}

func TestIntegration_BucketMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	tc := NewTestClient(t, WithKVBuckets("docs"))
	ctx := context.Background()

	client, err := NewClient(tc.URL, WithMetrics(registry), WithHealthInterval(0))
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	bucket, err := client.GetKeyValueBucket(ctx, "docs")
	require.NoError(t, err)
	_, err = bucket.Put(ctx, "users.1", []byte(`{}`))
	require.NoError(t, err)

	client.bucketMetrics.updateStats(ctx)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "docfeed_bucket_values" {
			found = true
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}
