// Package natsclient is the JetStream key-value document store behind docfeed.
//
// A document is a key in a KV bucket. The package has three parts:
//
//   - Client owns the NATS connection. Connection and bucket operations are
//     guarded by a circuit breaker that opens after a threshold of failures
//     (default 5) and doubles its backoff every further round, capped by
//     WithMaxBackoff.
//   - KVStore is the write side: Put, Create, revision-checked Update, and
//     UpdateWithRetry/UpdateJSON which retry compare-and-swap conflicts with
//     a pkg/retry policy.
//   - KVSource implements source.Source. Every subscription runs a bucket
//     watcher in its own goroutine and turns watcher entries into document or
//     query snapshots.
//
// # Connection Lifecycle
//
// Disconnected → Connecting → Connected → Reconnecting → Connected. A failed
// Connect counts towards the breaker; while it is open Connect and bucket calls
// return ErrCircuitOpen without touching the network.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("docfeed"),
//	    natsclient.WithCircuitBreakerThreshold(5),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// # Watching Documents
//
// DocRef names a single document and DocQuery a set of keys matching a NATS
// subject filter. Queries are compared after normalisation, so an empty
// Pattern equals ">" and a negative Limit equals no limit.
//
//	src := client.Source()
//	defer src.Close()
//
//	w := watch.WatchItem(src, natsclient.DocRef{Bucket: "users", Key: "ada"},
//	    state.JSON[User](), state.Listener[state.ItemState[User]]{})
//	defer w.Close()
//
// A deleted or purged key is delivered as a document that does not exist.
// Unless metadata changes are requested, a write that leaves the body
// unchanged is not delivered. If a watcher stops on its own the subscription
// receives errors.ErrConnectionLost and the watcher is reopened, replaying the
// current state.
//
// # Metrics
//
// WithMetrics registers docfeed_bucket_* collectors: value and byte gauges per
// opened bucket, refreshed every WithMetricsInterval, and a counter of watcher
// updates by operation.
//
// # Testing
//
// NewTestClient starts a NATS server with testcontainers:
//
//	tc := natsclient.NewTestClient(t, natsclient.WithKVBuckets("users"))
//	kv, _ := tc.KVStore(ctx, "users")
package natsclient
