package watch

import (
	"github.com/c360/docfeed/feed"
	"github.com/c360/docfeed/state"
)

func feedObserver(events *[]string) feed.Observer[state.ItemState[user]] {
	return feed.Observer[state.ItemState[user]]{
		Next: func(st state.ItemState[user]) { *events = append(*events, "sink:"+st.Status.String()) },
		Done: func(error) { *events = append(*events, "sink:done") },
	}
}

func feedDone(reasons *[]error) feed.Observer[state.ItemState[user]] {
	return feed.Observer[state.ItemState[user]]{
		Done: func(reason error) { *reasons = append(*reasons, reason) },
	}
}
