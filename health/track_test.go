package health

import (
	"testing"

	"github.com/c360/docfeed/feed"
	"github.com/c360/docfeed/state"
)

type user struct{ Name string }

func TestTrack_FollowsFeedStates(t *testing.T) {
	m := NewMonitor()
	f := feed.New(state.LoadingItem[user]())
	cancel := Track(m, "users/ada", f, ItemStatus[user])
	defer cancel()

	check := func(want string) {
		t.Helper()
		st, ok := m.Get("users/ada")
		if !ok {
			t.Fatal("feed not tracked")
		}
		if st.Status != want {
			t.Errorf("status = %s, want %s", st.Status, want)
		}
	}

	check(LevelDegraded)
	f.Publish(state.ItemState[user]{Status: state.StatusResolved, Exists: true, Data: user{Name: "ada"}})
	check(LevelHealthy)
	f.Publish(state.ErrorItem[user]())
	check(LevelUnhealthy)
	f.Publish(state.ItemState[user]{Status: state.StatusResolved})
	check(LevelHealthy)

	f.Complete()
	check(LevelHealthy)
	if st, _ := m.Get("users/ada"); st.Message != "completed" {
		t.Errorf("message = %q, want completed", st.Message)
	}
}

func TestTrack_ClosedFeedIsRemoved(t *testing.T) {
	m := NewMonitor()
	f := feed.New(state.LoadingCollection[user]())
	Track(m, "users", f, CollectionStatus[user])

	f.Publish(state.CollectionState[user]{Status: state.StatusResolved, Empty: true, Data: []user{}})
	if m.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", m.Count())
	}

	f.Close()
	if m.Count() != 0 {
		t.Errorf("closed feed still tracked")
	}
}

func TestTrack_CancelStopsUpdates(t *testing.T) {
	m := NewMonitor()
	f := feed.New(state.LoadingItem[user]())
	cancel := Track(m, "users/ada", f, ItemStatus[user])

	cancel()
	f.Publish(state.ErrorItem[user]())
	if _, ok := m.Get("users/ada"); ok {
		t.Error("cancelled tracker still reporting")
	}
}
