package natsclient

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/pkg/retry"
	"github.com/c360/docfeed/source"
)

// DocRef names one document: a key in a bucket.
type DocRef struct {
	Bucket string
	Key    string
}

// Path returns "bucket/key".
func (r DocRef) Path() string {
	return r.Bucket + "/" + r.Key
}

// Order selects how collection members are sorted.
type Order int

const (
	// OrderByKey sorts members by key.
	OrderByKey Order = iota
	// OrderByRevision sorts members by their last write.
	OrderByRevision
)

// String returns the string representation of Order
func (o Order) String() string {
	switch o {
	case OrderByKey:
		return "key"
	case OrderByRevision:
		return "revision"
	default:
		return fmt.Sprintf("order(%d)", int(o))
	}
}

// DocQuery selects the documents of a bucket whose keys match Pattern.
type DocQuery struct {
	Bucket string
	// Pattern is a NATS subject filter over keys. Empty means every key.
	Pattern    string
	OrderBy    Order
	Descending bool
	// Limit caps the number of members. Zero means no limit.
	Limit int
}

// normalized maps equivalent spellings of a query onto one value.
func (q DocQuery) normalized() DocQuery {
	if q.Pattern == "" {
		q.Pattern = ">"
	}
	if q.Limit < 0 {
		q.Limit = 0
	}
	return q
}

// String returns a canonical description of the query.
func (q DocQuery) String() string {
	n := q.normalized()
	s := fmt.Sprintf("%s/%s order=%s", n.Bucket, n.Pattern, n.OrderBy)
	if n.Descending {
		s += " desc"
	}
	if n.Limit > 0 {
		s += fmt.Sprintf(" limit=%d", n.Limit)
	}
	return s
}

// Document is one observed version of a key.
type Document struct {
	bucket   string
	key      string
	value    []byte
	revision uint64
	created  time.Time
	exists   bool
}

// ID implements source.ItemSnapshot.
func (d *Document) ID() string { return d.bucket + "/" + d.key }

// Exists implements source.ItemSnapshot.
func (d *Document) Exists() bool { return d.exists }

// Data implements source.ItemSnapshot.
func (d *Document) Data() ([]byte, error) {
	if !d.exists {
		return nil, errors.ErrKeyNotFound
	}
	return d.value, nil
}

// Key returns the document key.
func (d *Document) Key() string { return d.key }

// Revision returns the stream sequence of the write, or of the delete marker.
func (d *Document) Revision() uint64 { return d.revision }

// Created returns when the revision was written.
func (d *Document) Created() time.Time { return d.created }

func (d *Document) sameBody(o *Document) bool {
	return d.exists == o.exists && bytes.Equal(d.value, o.value)
}

func documentFrom(e jetstream.KeyValueEntry) *Document {
	doc := &Document{
		bucket:   e.Bucket(),
		key:      e.Key(),
		revision: e.Revision(),
		created:  e.Created(),
	}
	if e.Operation() == jetstream.KeyValuePut {
		doc.exists = true
		doc.value = e.Value()
	}
	return doc
}

// Documents is one observed version of a query result.
type Documents struct {
	members []source.ItemSnapshot
}

// Members implements source.CollectionSnapshot.
func (d Documents) Members() []source.ItemSnapshot { return d.members }

// Size implements source.CollectionSnapshot.
func (d Documents) Size() int { return len(d.members) }

// BucketOpener opens document buckets by name. *Client implements it.
type BucketOpener interface {
	GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error)
}

// KVSource serves document and query subscriptions from JetStream KV
// watchers. Each subscription runs its own goroutine, which is the only
// caller of that subscription's observer.
//
// KV has no client-side cache, so source.PreferServer behaves like
// source.PreferDefault. source.PreferCache delivers the current state once and
// completes.
type KVSource struct {
	buckets BucketOpener
	logger  *slog.Logger
	metrics *bucketMetrics
	policy  retry.Policy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SourceOption configures a KVSource.
type SourceOption func(*KVSource)

// WithSourceLogger sets the logger for watcher lifecycle events.
func WithSourceLogger(logger *slog.Logger) SourceOption {
	return func(s *KVSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOpenPolicy sets the retry policy used to open bucket watchers.
func WithOpenPolicy(p retry.Policy) SourceOption {
	return func(s *KVSource) {
		s.policy = p
	}
}

// NewKVSource creates a source reading from the buckets opener returns.
func NewKVSource(opener BucketOpener, opts ...SourceOption) *KVSource {
	ctx, cancel := context.WithCancel(context.Background())
	s := &KVSource{
		buckets: opener,
		logger:  slog.Default(),
		policy:  retry.Default(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "kvsource")
	s.policy.Retryable = func(err error) bool { return !errors.IsInvalid(err) }
	return s
}

// Source returns a KVSource backed by this client's buckets. Watch updates
// are counted when the client was built WithMetrics.
func (m *Client) Source(opts ...SourceOption) *KVSource {
	s := NewKVSource(m, opts...)
	s.metrics = m.bucketMetrics
	return s
}

// Close stops every subscription and waits for their goroutines.
func (s *KVSource) Close() {
	s.cancel()
	s.wg.Wait()
}

// QueriesEqual reports whether two queries select the same documents in the
// same order. Queries of foreign types are never equal.
func (s *KVSource) QueriesEqual(a, b source.Query) bool {
	qa, okA := asDocQuery(a)
	qb, okB := asDocQuery(b)
	if !okA || !okB {
		return false
	}
	return qa.normalized() == qb.normalized()
}

// SubscribeToItem watches one key. A missing or deleted key is delivered as a
// document that does not exist.
func (s *KVSource) SubscribeToItem(ref source.ItemRef, opts source.ListenOptions,
	obs source.Observer[source.ItemSnapshot]) source.Unsubscribe {

	return s.start(func(ctx context.Context) {
		r, err := itemRef(ref)
		if err != nil {
			obs.OnError(err)
			return
		}
		v := &itemView{ctx: ctx, ref: r, obs: obs, includeMeta: opts.IncludeMetadataChanges}
		s.run(ctx, r.Bucket, r.Key, opts.Source, v)
	})
}

// SubscribeToCollection watches every key matching the query. Nothing is
// delivered until the initial replay finished; afterwards every visible change
// yields a full snapshot.
func (s *KVSource) SubscribeToCollection(q source.Query, opts source.ListenOptions,
	obs source.Observer[source.CollectionSnapshot]) source.Unsubscribe {

	return s.start(func(ctx context.Context) {
		dq, err := collectionQuery(q)
		if err != nil {
			obs.OnError(err)
			return
		}
		v := &collectionView{ctx: ctx, q: dq, obs: obs, includeMeta: opts.IncludeMetadataChanges}
		s.run(ctx, dq.Bucket, dq.Pattern, opts.Source, v)
	})
}

func (s *KVSource) start(fn func(ctx context.Context)) source.Unsubscribe {
	ctx, cancel := context.WithCancel(s.ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		fn(ctx)
	}()

	return source.Unsubscribe(cancel)
}

// view folds watcher entries into snapshots for one subscription.
type view interface {
	reset()
	apply(e jetstream.KeyValueEntry)
	ready()
	fail(err error)
	complete()
}

// run keeps a watcher open until ctx ends. A watcher that stops on its own is
// reported as errors.ErrConnectionLost and reopened after a pause.
func (s *KVSource) run(ctx context.Context, bucket, pattern string, pref source.Preference, v view) {
	for lost := 1; ; lost++ {
		w, err := s.open(ctx, bucket, pattern)
		if err != nil {
			if ctx.Err() == nil {
				s.metrics.recordError("watch")
				v.fail(err)
			}
			return
		}

		v.reset()
		finished := s.drain(ctx, bucket, w, pref, v)
		_ = w.Stop()
		if finished || ctx.Err() != nil {
			return
		}

		s.logger.Warn("KV watcher stopped, reopening", "bucket", bucket, "pattern", pattern)
		v.fail(errors.WrapTransient(errors.ErrConnectionLost, "KVSource", "run",
			fmt.Sprintf("watcher for %s/%s stopped", bucket, pattern)))

		timer := time.NewTimer(s.policy.Delay(lost))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *KVSource) open(ctx context.Context, bucket, pattern string) (jetstream.KeyWatcher, error) {
	return retry.Value(ctx, s.policy, func(ctx context.Context) (jetstream.KeyWatcher, error) {
		kv, err := s.buckets.GetKeyValueBucket(ctx, bucket)
		if err != nil {
			return nil, err
		}
		w, err := kv.Watch(ctx, pattern)
		if err != nil {
			return nil, errors.WrapTransient(err, "KVSource", "open", fmt.Sprintf("watch %s/%s", bucket, pattern))
		}
		s.logger.Debug("KV watcher opened", "bucket", bucket, "pattern", pattern)
		return w, nil
	})
}

// drain feeds watcher entries to v. It returns true when the subscription is
// over: ctx ended or a cache-only read completed.
func (s *KVSource) drain(ctx context.Context, bucket string, w jetstream.KeyWatcher,
	pref source.Preference, v view) bool {

	for {
		select {
		case <-ctx.Done():
			return true

		case e, ok := <-w.Updates():
			if !ok {
				return false
			}
			// A nil entry marks the end of the initial replay.
			if e == nil {
				v.ready()
				if pref == source.PreferCache {
					v.complete()
					return true
				}
				continue
			}
			s.metrics.recordUpdate(bucket, e.Operation())
			v.apply(e)
		}
	}
}

type itemView struct {
	ctx         context.Context
	ref         DocRef
	obs         source.Observer[source.ItemSnapshot]
	includeMeta bool

	last *Document
}

func (v *itemView) reset() { v.last = nil }

func (v *itemView) apply(e jetstream.KeyValueEntry) {
	if e.Key() != v.ref.Key {
		return
	}
	v.emit(documentFrom(e))
}

func (v *itemView) ready() {
	if v.last == nil {
		v.emit(&Document{bucket: v.ref.Bucket, key: v.ref.Key})
	}
}

func (v *itemView) emit(doc *Document) {
	prev := v.last
	v.last = doc
	if prev != nil && !v.includeMeta && prev.sameBody(doc) {
		return
	}
	if v.ctx.Err() == nil {
		v.obs.OnNext(doc)
	}
}

func (v *itemView) fail(err error) {
	if v.ctx.Err() == nil {
		v.obs.OnError(err)
	}
}

func (v *itemView) complete() { v.obs.OnComplete() }

type collectionView struct {
	ctx         context.Context
	q           DocQuery
	obs         source.Observer[source.CollectionSnapshot]
	includeMeta bool

	docs     map[string]*Document
	replayed bool
	last     []*Document
	emitted  bool
}

func (v *collectionView) reset() {
	v.docs = make(map[string]*Document)
	v.replayed = false
	v.emitted = false
	v.last = nil
}

func (v *collectionView) apply(e jetstream.KeyValueEntry) {
	doc := documentFrom(e)
	if doc.exists {
		v.docs[doc.key] = doc
	} else {
		if _, ok := v.docs[doc.key]; !ok {
			return
		}
		delete(v.docs, doc.key)
	}
	if v.replayed {
		v.emit()
	}
}

func (v *collectionView) ready() {
	v.replayed = true
	v.emit()
}

func (v *collectionView) emit() {
	members := v.visible()
	if v.emitted && !v.includeMeta && sameMembers(v.last, members) {
		return
	}
	v.last = members
	v.emitted = true

	if v.ctx.Err() != nil {
		return
	}
	snaps := make([]source.ItemSnapshot, len(members))
	for i, d := range members {
		snaps[i] = d
	}
	v.obs.OnNext(Documents{members: snaps})
}

// visible returns the sorted and limited member list.
func (v *collectionView) visible() []*Document {
	members := make([]*Document, 0, len(v.docs))
	for _, d := range v.docs {
		members = append(members, d)
	}

	slices.SortFunc(members, func(a, b *Document) int {
		var c int
		if v.q.OrderBy == OrderByRevision {
			c = cmp.Compare(a.revision, b.revision)
		}
		if c == 0 {
			c = strings.Compare(a.key, b.key)
		}
		if v.q.Descending {
			c = -c
		}
		return c
	})

	if v.q.Limit > 0 && len(members) > v.q.Limit {
		members = members[:v.q.Limit]
	}
	return members
}

func sameMembers(a, b []*Document) bool {
	return slices.EqualFunc(a, b, func(x, y *Document) bool {
		return x.key == y.key && x.sameBody(y)
	})
}

func (v *collectionView) fail(err error) {
	if v.ctx.Err() == nil {
		v.obs.OnError(err)
	}
}

func (v *collectionView) complete() { v.obs.OnComplete() }

func itemRef(ref source.ItemRef) (DocRef, error) {
	var r DocRef
	switch t := ref.(type) {
	case DocRef:
		r = t
	case *DocRef:
		if t != nil {
			r = *t
		}
	default:
		return r, errors.WrapInvalid(errors.ErrInvalidData, "KVSource", "SubscribeToItem",
			fmt.Sprintf("unsupported ref type %T", ref))
	}
	if r.Bucket == "" || r.Key == "" || strings.ContainsAny(r.Key, "*>") {
		return r, errors.WrapInvalid(errors.ErrInvalidData, "KVSource", "SubscribeToItem",
			fmt.Sprintf("invalid document ref %q", r.Path()))
	}
	return r, nil
}

func asDocQuery(q source.Query) (DocQuery, bool) {
	switch t := q.(type) {
	case DocQuery:
		return t, true
	case *DocQuery:
		if t != nil {
			return *t, true
		}
	}
	return DocQuery{}, false
}

func collectionQuery(q source.Query) (DocQuery, error) {
	dq, ok := asDocQuery(q)
	if !ok {
		return dq, errors.WrapInvalid(errors.ErrInvalidData, "KVSource", "SubscribeToCollection",
			fmt.Sprintf("unsupported query type %T", q))
	}
	if dq.Bucket == "" {
		return dq, errors.WrapInvalid(errors.ErrInvalidData, "KVSource", "SubscribeToCollection",
			"query has no bucket")
	}
	return dq.normalized(), nil
}
