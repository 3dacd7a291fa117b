package state

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/source"
	"github.com/c360/docfeed/source/sourcetest"
)

type user struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "loading", StatusLoading.String())
	assert.Equal(t, "disabled", StatusDisabled.String())
	assert.Equal(t, "error", StatusError.String())
	assert.Equal(t, "resolved", StatusResolved.String())
	assert.Equal(t, "status(42)", Status(42).String())
}

func TestTransformItem(t *testing.T) {
	decode := JSON[user]()

	t.Run("existing document", func(t *testing.T) {
		snap := sourcetest.Item("users.1", `{"name":"ada","age":36}`)
		st, err := TransformItem(snap, decode)
		require.NoError(t, err)

		assert.Equal(t, StatusResolved, st.Status)
		assert.True(t, st.Exists)
		assert.Equal(t, user{Name: "ada", Age: 36}, st.Data)
		assert.Equal(t, snap, st.Snapshot)
		assert.True(t, st.Settled())
	})

	t.Run("missing document", func(t *testing.T) {
		snap := sourcetest.Missing("users.2")
		st, err := TransformItem(snap, decode)
		require.NoError(t, err)

		assert.Equal(t, StatusResolved, st.Status)
		assert.False(t, st.Exists)
		assert.Equal(t, user{}, st.Data)
		assert.Equal(t, snap, st.Snapshot)
	})

	t.Run("malformed body collapses to error", func(t *testing.T) {
		st, err := TransformItem(sourcetest.Item("users.3", `{"name":`), decode)
		require.Error(t, err)

		assert.Equal(t, ErrorItem[user](), st)
		assert.False(t, st.Exists)
		assert.Nil(t, st.Snapshot)

		var de *errors.DecodeError
		require.True(t, stderrors.As(err, &de))
		assert.Equal(t, "users.3", de.SnapshotID)
	})

	t.Run("unreadable body collapses to error", func(t *testing.T) {
		st, err := TransformItem(sourcetest.Unreadable("users.4", fmt.Errorf("truncated")), decode)
		assert.True(t, errors.IsDecode(err))
		assert.True(t, st.HasError())
	})

	t.Run("panicking decoder collapses to error", func(t *testing.T) {
		boom := Decoder[user](func([]byte) (user, error) { panic("boom") })
		st, err := TransformItem(sourcetest.Item("users.5", `{}`), boom)
		assert.True(t, errors.IsDecode(err))
		assert.True(t, st.HasError())
		assert.Equal(t, user{}, st.Data)
	})
}

func TestTransformCollection_SizeInvariant(t *testing.T) {
	decode := JSON[user]()

	for n := 0; n <= 8; n++ {
		t.Run(fmt.Sprintf("members=%d", n), func(t *testing.T) {
			docs := make([]sourcetest.Doc, n)
			for i := range docs {
				docs[i] = sourcetest.Item(fmt.Sprintf("users.%d", i), fmt.Sprintf(`{"name":"u%d","age":%d}`, i, i))
			}

			st, err := TransformCollection(sourcetest.Docs(docs...), decode)
			require.NoError(t, err)

			assert.Equal(t, StatusResolved, st.Status)
			assert.Equal(t, n, st.Size)
			assert.Len(t, st.Data, st.Size)
			assert.Equal(t, st.Size == 0, st.Empty)
			for i, u := range st.Data {
				assert.Equal(t, fmt.Sprintf("u%d", i), u.Name, "data must follow snapshot order")
			}
		})
	}
}

func TestTransformCollection_DecodeErrorCollapse(t *testing.T) {
	snap := sourcetest.Docs(
		sourcetest.Item("users.1", `{"name":"ada"}`),
		sourcetest.Item("users.2", `not json`),
		sourcetest.Item("users.3", `{"name":"grace"}`),
	)

	st, err := TransformCollection(snap, JSON[user]())
	require.Error(t, err)

	want := CollectionState[user]{Status: StatusError, Size: 0, Empty: true, Data: []user{}}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("unexpected error state (-want +got):\n%s", diff)
	}

	var de *errors.DecodeError
	require.True(t, stderrors.As(err, &de))
	assert.Equal(t, "users.2", de.SnapshotID)
}

func TestInitialStates(t *testing.T) {
	assert.True(t, LoadingItem[user]().IsLoading())
	assert.True(t, DisabledItem[user]().IsDisabled())
	assert.False(t, DisabledItem[user]().Settled())
	assert.Nil(t, DisabledItem[user]().Snapshot)

	for _, st := range []CollectionState[user]{LoadingCollection[user](), DisabledCollection[user](), ErrorCollection[user]()} {
		assert.True(t, st.Empty)
		assert.Equal(t, 0, st.Size)
		assert.NotNil(t, st.Data)
		assert.Empty(t, st.Data)
		assert.Nil(t, st.Snapshot)
	}
}

func TestMachine_NotifiesBeforeEmit(t *testing.T) {
	var events []string
	listener := Listener[ItemState[user]]{
		OnSnapshot: func(st ItemState[user]) { events = append(events, "snapshot:"+st.Status.String()) },
		OnError:    func(err error) { events = append(events, "error") },
		OnComplete: func() { events = append(events, "complete") },
	}
	var reported []error
	m := NewItemMachine(JSON[user](), listener, ReporterFunc(func(err error) { reported = append(reported, err) }))

	emit := func(st ItemState[user]) { events = append(events, "emit:"+st.Status.String()) }

	m.Next(sourcetest.Item("users.1", `{"name":"ada"}`), emit)
	m.Error(errors.ErrPermissionDenied, emit)
	m.Next(sourcetest.Item("users.1", `{"name":"ada"}`), emit)
	m.Next(sourcetest.Item("users.1", `{`), emit)
	m.Complete()

	assert.Equal(t, []string{
		"snapshot:resolved", "emit:resolved",
		"error", "emit:error",
		"snapshot:resolved", "emit:resolved",
		"error", "emit:error",
		"complete",
	}, events)

	require.Len(t, reported, 2)
	assert.ErrorIs(t, reported[0], errors.ErrPermissionDenied)
	assert.True(t, errors.IsDecode(reported[1]))
}

func TestMachine_ListenerPanicStillEmits(t *testing.T) {
	listener := Listener[CollectionState[user]]{
		OnSnapshot: func(CollectionState[user]) { panic("listener bug") },
		OnError:    func(error) { panic("listener bug") },
	}
	m := NewCollectionMachine(JSON[user](), listener, nil)

	var emitted []Status
	emit := func(st CollectionState[user]) { emitted = append(emitted, st.Status) }

	assert.PanicsWithValue(t, "listener bug", func() {
		m.Next(sourcetest.Docs(sourcetest.Item("users.1", `{}`)), emit)
	})
	assert.PanicsWithValue(t, "listener bug", func() {
		m.Error(errors.ErrConnectionLost, emit)
	})

	assert.Equal(t, []Status{StatusResolved, StatusError}, emitted)
}

func TestMachine_NilListenerCallbacks(t *testing.T) {
	m := NewItemMachine(JSON[user](), Listener[ItemState[user]]{}, nil)

	var got []ItemState[user]
	emit := func(st ItemState[user]) { got = append(got, st) }

	m.Next(sourcetest.Missing("users.9"), emit)
	m.Error(errors.ErrConnectionLost, emit)
	m.Complete()

	require.Len(t, got, 2)
	assert.Equal(t, StatusResolved, got[0].Status)
	assert.False(t, got[0].Exists)
	assert.Equal(t, ErrorItem[user](), got[1])
}

var _ source.ItemSnapshot = sourcetest.Doc{}
