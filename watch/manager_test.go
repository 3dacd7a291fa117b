package watch

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/metric"
	"github.com/c360/docfeed/source"
	"github.com/c360/docfeed/source/sourcetest"
	"github.com/c360/docfeed/state"
)

type user struct {
	Name string `json:"name"`
}

type ptrRef struct{ path string }

func (r *ptrRef) Path() string { return r.path }

// recorder collects the status of every state a feed delivers.
type recorder[S any] struct {
	mu       sync.Mutex
	statuses []state.Status
	states   []S
}

func (r *recorder[S]) add(status state.Status, st S) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	r.states = append(r.states, st)
}

func (r *recorder[S]) Statuses() []state.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]state.Status(nil), r.statuses...)
}

func recordItems[T any](w *ItemWatch[T]) *recorder[state.ItemState[T]] {
	r := &recorder[state.ItemState[T]]{}
	w.Feed().SubscribeFunc(func(st state.ItemState[T]) { r.add(st.Status, st) })
	return r
}

func recordCollections[T any](w *CollectionWatch[T]) *recorder[state.CollectionState[T]] {
	r := &recorder[state.CollectionState[T]]{}
	w.Feed().SubscribeFunc(func(st state.CollectionState[T]) { r.add(st.Status, st) })
	return r
}

func TestWatchItem_NilKeyIsDisabled(t *testing.T) {
	listens := []source.ListenOptions{
		{},
		{IncludeMetadataChanges: true},
		{Source: source.PreferCache},
		{IncludeMetadataChanges: true, Source: source.PreferServer},
	}

	for _, listen := range listens {
		t.Run(listen.Source.String(), func(t *testing.T) {
			src := sourcetest.New()

			w := WatchItem(src, nil, state.JSON[user](), state.Listener[state.ItemState[user]]{}, WithListenOptions(listen))
			defer w.Close()
			rec := recordItems(w)

			typed := WatchItem(src, (*ptrRef)(nil), state.JSON[user](), state.Listener[state.ItemState[user]]{}, WithListenOptions(listen))
			defer typed.Close()

			assert.Equal(t, []state.Status{state.StatusDisabled}, rec.Statuses())
			assert.True(t, typed.State().IsDisabled())
			assert.Nil(t, w.State().Snapshot)
			assert.Equal(t, 0, src.Subscribes(), "no upstream subscription for a nil key")
		})
	}
}

func TestWatchItem_LoadingThenResolved(t *testing.T) {
	src := sourcetest.New()
	w := WatchItem(src, sourcetest.Ref("users/1"), state.JSON[user](), state.Listener[state.ItemState[user]]{})
	defer w.Close()
	rec := recordItems(w)

	sub := src.LastItem()
	require.NotNil(t, sub)
	assert.Equal(t, sourcetest.Ref("users/1"), sub.Key)

	sub.Emit(sourcetest.Item("users/1", `{"name":"ada"}`))

	assert.Equal(t, []state.Status{state.StatusLoading, state.StatusResolved}, rec.Statuses())
	st := w.State()
	assert.True(t, st.Exists)
	assert.Equal(t, user{Name: "ada"}, st.Data)
}

func TestWatchItem_SnapshotDuringSubscribe(t *testing.T) {
	src := sourcetest.New()
	src.OnItemSubscribe = func(sub *sourcetest.Subscription[source.ItemSnapshot]) {
		sub.Emit(sourcetest.Missing("users/2"))
	}

	w := WatchItem(src, sourcetest.Ref("users/2"), state.JSON[user](), state.Listener[state.ItemState[user]]{})
	defer w.Close()

	st := w.State()
	assert.Equal(t, state.StatusResolved, st.Status)
	assert.False(t, st.Exists)
}

func TestWatchItem_SameRefKeepsSubscription(t *testing.T) {
	src := sourcetest.New()
	w := WatchItem(src, sourcetest.Ref("users/1"), state.JSON[user](), state.Listener[state.ItemState[user]]{})
	defer w.Close()

	src.LastItem().Emit(sourcetest.Item("users/1", `{"name":"ada"}`))
	rec := recordItems(w)

	w.SetKey(sourcetest.Ref("users/1"))

	assert.Equal(t, 1, src.Subscribes())
	assert.Equal(t, 0, src.Unsubscribes())
	assert.Equal(t, []state.Status{state.StatusResolved}, rec.Statuses(), "no state reset for an equal key")
}

func TestWatchItem_KeyToNilTearsDown(t *testing.T) {
	src := sourcetest.New()
	w := WatchItem(src, sourcetest.Ref("users/1"), state.JSON[user](), state.Listener[state.ItemState[user]]{})
	defer w.Close()
	rec := recordItems(w)

	first := src.LastItem()
	first.Emit(sourcetest.Item("users/1", `{"name":"ada"}`))

	w.SetKey(nil)
	w.SetKey(nil)
	first.Emit(sourcetest.Item("users/1", `{"name":"late"}`))

	assert.Equal(t, 1, first.Unsubscribed())
	assert.Equal(t, []state.Status{state.StatusLoading, state.StatusResolved, state.StatusDisabled}, rec.Statuses())
	assert.Nil(t, w.State().Snapshot)

	w.SetKey(sourcetest.Ref("users/3"))
	assert.Equal(t, 2, src.Subscribes())
	assert.Equal(t, state.StatusLoading, w.State().Status)
}

func TestWatchCollection_EqualQueriesDoNotResubscribe(t *testing.T) {
	spy := &spySource{Fake: sourcetest.New()}
	spy.On("SubscribeToCollection", mock.Anything).Return()

	q1 := &sourcetest.Query{Collection: "users", Where: []string{"age>30", "active"}, Limit: 10}
	q2 := &sourcetest.Query{Collection: "users", Where: []string{"active", "age>30"}, Limit: 10}
	require.NotSame(t, q1, q2)
	require.True(t, spy.QueriesEqual(q1, q2))

	w := WatchCollection(spy, q1, state.JSON[user](), state.Listener[state.CollectionState[user]]{})
	defer w.Close()

	spy.LastCollection().Emit(sourcetest.Docs(sourcetest.Item("users/1", `{"name":"ada"}`)))
	rec := recordCollections(w)

	w.SetKey(q2)
	w.SetKey(q1)

	spy.AssertNumberOfCalls(t, "SubscribeToCollection", 1)
	assert.Equal(t, 0, spy.Unsubscribes())
	assert.Equal(t, []state.Status{state.StatusResolved}, rec.Statuses())
	assert.Equal(t, 1, w.State().Size)
}

func TestWatchCollection_KeyChangeResubscribes(t *testing.T) {
	src := sourcetest.New()
	q1 := &sourcetest.Query{Collection: "users", Limit: 10}
	q2 := &sourcetest.Query{Collection: "users", Limit: 20}

	w := WatchCollection(src, q1, state.JSON[user](), state.Listener[state.CollectionState[user]]{})
	defer w.Close()
	rec := recordCollections(w)

	first := src.LastCollection()
	first.Emit(sourcetest.Docs(sourcetest.Item("users/1", `{"name":"ada"}`)))

	w.SetKey(q2)
	second := src.LastCollection()
	require.NotSame(t, first, second)
	assert.Equal(t, 1, first.Unsubscribed(), "old subscription torn down")
	assert.Equal(t, q2, second.Key)

	// In-flight events from the superseded subscription are dropped.
	first.Emit(sourcetest.Docs(sourcetest.Item("users/9", `{"name":"stale"}`)))
	assert.Equal(t, state.StatusLoading, w.State().Status)

	second.Emit(sourcetest.Docs())

	assert.Equal(t, []state.Status{
		state.StatusLoading,
		state.StatusResolved,
		state.StatusLoading,
		state.StatusResolved,
	}, rec.Statuses())
	assert.True(t, w.State().Empty)
}

func TestWatch_ErrorRecovery(t *testing.T) {
	src := sourcetest.New()
	var reported []error
	w := WatchItem(src, sourcetest.Ref("users/1"), state.JSON[user](), state.Listener[state.ItemState[user]]{},
		WithReporter(state.ReporterFunc(func(err error) { reported = append(reported, err) })))
	defer w.Close()
	rec := recordItems(w)

	sub := src.LastItem()
	sub.Emit(sourcetest.Item("users/1", `{"name":"ada"}`))
	sub.Fail(errors.ErrConnectionLost)

	st := w.State()
	assert.True(t, st.HasError())
	assert.False(t, st.Exists, "previous data is discarded on error")
	assert.Equal(t, user{}, st.Data)

	sub.Emit(sourcetest.Item("users/1", `{"name":"grace"}`))

	assert.Equal(t, []state.Status{
		state.StatusLoading,
		state.StatusResolved,
		state.StatusError,
		state.StatusResolved,
	}, rec.Statuses())
	assert.Equal(t, user{Name: "grace"}, w.State().Data)
	assert.Equal(t, 0, sub.Unsubscribed(), "errors never close the subscription")
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], errors.ErrConnectionLost)
}

func TestWatch_ListenerSeesStateBeforeSinks(t *testing.T) {
	src := sourcetest.New()
	var events []string
	listener := state.Listener[state.ItemState[user]]{
		OnSnapshot: func(st state.ItemState[user]) { events = append(events, "listener:"+st.Status.String()) },
		OnError:    func(error) { events = append(events, "listener:error") },
		OnComplete: func() { events = append(events, "listener:complete") },
	}
	w := WatchItem(src, sourcetest.Ref("users/1"), state.JSON[user](), listener)
	defer w.Close()
	w.Feed().Subscribe(feedObserver(&events))

	sub := src.LastItem()
	sub.Emit(sourcetest.Item("users/1", `{}`))
	sub.Emit(sourcetest.Item("users/1", `[`))
	sub.Complete()

	assert.Equal(t, []string{
		"sink:loading",
		"listener:resolved", "sink:resolved",
		"listener:error", "sink:error",
		"listener:complete", "sink:done",
	}, events)
}

func TestWatch_UpstreamCompletion(t *testing.T) {
	src := sourcetest.New()
	w := WatchItem(src, sourcetest.Ref("users/1"), state.JSON[user](), state.Listener[state.ItemState[user]]{})
	defer w.Close()

	sub := src.LastItem()
	sub.Emit(sourcetest.Item("users/1", `{"name":"ada"}`))
	sub.Complete()
	sub.Complete()

	assert.True(t, w.Finished())
	assert.True(t, w.Feed().Completed())
	assert.Equal(t, 1, sub.Unsubscribed())
	assert.Equal(t, user{Name: "ada"}, w.State().Data, "latest state stays readable")

	w.SetKey(sourcetest.Ref("users/2"))
	assert.Equal(t, 1, src.Subscribes(), "finished watch ignores key changes")
}

func TestWatch_CompletionDuringSubscribe(t *testing.T) {
	src := sourcetest.New()
	src.OnItemSubscribe = func(sub *sourcetest.Subscription[source.ItemSnapshot]) {
		sub.Emit(sourcetest.Missing("users/1"))
		sub.Complete()
	}

	w := WatchItem(src, sourcetest.Ref("users/1"), state.JSON[user](), state.Listener[state.ItemState[user]]{})
	defer w.Close()

	assert.True(t, w.Finished())
	assert.Equal(t, 1, src.LastItem().Unsubscribed())
	assert.False(t, w.State().Exists)
}

func TestWatch_CloseIsIdempotent(t *testing.T) {
	m := metric.NewMetrics()
	src := sourcetest.New()
	w := WatchItem(src, sourcetest.Ref("users/1"), state.JSON[user](), state.Listener[state.ItemState[user]]{}, WithMetrics(m))

	var reasons []error
	w.Feed().Subscribe(feedDone(&reasons))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WatchesActive.WithLabelValues(KindItem)))

	sub := src.LastItem()
	w.Close()
	w.Close()

	assert.Equal(t, 1, sub.Unsubscribed(), "unsubscribe observed at most once")
	assert.True(t, w.Closed())
	assert.True(t, w.Feed().Closed())
	require.Len(t, reasons, 1)
	assert.ErrorIs(t, reasons[0], errors.ErrFeedClosed)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.WatchesActive.WithLabelValues(KindItem)))

	// Nothing is emitted after Close.
	sub.Emit(sourcetest.Item("users/1", `{"name":"late"}`))
	w.SetKey(sourcetest.Ref("users/2"))
	assert.True(t, w.State().IsLoading())
	assert.Equal(t, 1, src.Subscribes())
}

func TestWatch_ConcurrentEventsAndClose(t *testing.T) {
	src := sourcetest.New()
	w := WatchCollection(src, &sourcetest.Query{Collection: "users"}, state.JSON[user](), state.Listener[state.CollectionState[user]]{})
	rec := recordCollections(w)
	sub := src.LastCollection()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.Emit(sourcetest.Docs(sourcetest.Item("users/1", `{"name":"ada"}`)))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Close()
	}()
	wg.Wait()

	w.Close()
	assert.Equal(t, 1, sub.Unsubscribed())
	statuses := rec.Statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, state.StatusLoading, statuses[0])
	for _, s := range statuses[1:] {
		assert.Equal(t, state.StatusResolved, s)
	}
}

// spySource records collection subscribe calls on a testify mock.
type spySource struct {
	mock.Mock
	*sourcetest.Fake
}

func (s *spySource) SubscribeToCollection(q source.Query, opts source.ListenOptions, obs source.Observer[source.CollectionSnapshot]) source.Unsubscribe {
	s.Called(q)
	return s.Fake.SubscribeToCollection(q, opts, obs)
}
