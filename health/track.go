package health

import (
	stderrors "errors"

	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/feed"
	"github.com/c360/docfeed/state"
)

// Track reports every state of f to m under name. Loading and disabled feeds
// are degraded, resolved feeds healthy and feeds in the error state unhealthy.
// A completed feed stays healthy with its last status; a closed feed is
// removed. The returned function stops tracking and removes name.
func Track[S any](m *Monitor, name string, f *feed.Feed[S], status func(S) state.Status) (cancel func()) {
	stop := f.Subscribe(feed.Observer[S]{
		Next: func(st S) {
			m.Update(name, fromState(name, status(st)))
		},
		Done: func(reason error) {
			if stderrors.Is(reason, errors.ErrFeedCompleted) {
				if cur, ok := m.Get(name); ok && cur.IsHealthy() {
					cur.Message = "completed"
					m.Update(name, cur)
				}
				return
			}
			m.Remove(name)
		},
	})
	return func() {
		stop()
		m.Remove(name)
	}
}

// ItemStatus extracts the status of an item state, for Track.
func ItemStatus[T any](st state.ItemState[T]) state.Status { return st.Status }

// CollectionStatus extracts the status of a collection state, for Track.
func CollectionStatus[T any](st state.CollectionState[T]) state.Status { return st.Status }

func fromState(name string, s state.Status) Status {
	switch s {
	case state.StatusResolved:
		return NewHealthy(name, s.String())
	case state.StatusError:
		return NewUnhealthy(name, "feed in error state")
	default:
		return NewDegraded(name, s.String())
	}
}
