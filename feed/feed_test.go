package feed

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/docfeed/errors"
)

func TestFeed_ReplaysCurrentValueOnSubscribe(t *testing.T) {
	f := New("loading")

	var got []string
	cancel := f.SubscribeFunc(func(v string) { got = append(got, v) })
	defer cancel()

	assert.Equal(t, []string{"loading"}, got, "subscriber must see the current value before Subscribe returns")
}

func TestFeed_AttachedSubscribersSeeEveryValue(t *testing.T) {
	f := New(0)

	var early []int
	cancel := f.SubscribeFunc(func(v int) { early = append(early, v) })
	defer cancel()

	f.Publish(1)
	f.Publish(2)
	f.Publish(3)

	var late []int
	cancelLate := f.SubscribeFunc(func(v int) { late = append(late, v) })
	defer cancelLate()

	f.Publish(4)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, early)
	assert.Equal(t, []int{3, 4}, late, "late subscriber only replays the latest value")
	assert.Equal(t, 4, f.Value())
}

func TestFeed_CancelIsIdempotent(t *testing.T) {
	f := New(0)

	var got []int
	cancel := f.SubscribeFunc(func(v int) { got = append(got, v) })
	require.Equal(t, 1, f.Subscribers())

	cancel()
	cancel()
	f.Publish(1)

	assert.Equal(t, []int{0}, got)
	assert.Equal(t, 0, f.Subscribers())
}

func TestFeed_CancelFromInsideCallback(t *testing.T) {
	f := New(0)

	var got []int
	var cancel func()
	cancel = f.SubscribeFunc(func(v int) {
		got = append(got, v)
		if v == 2 {
			cancel()
		}
	})

	f.Publish(1)
	f.Publish(2)
	f.Publish(3)

	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestFeed_Complete(t *testing.T) {
	f := New("loading")
	f.Publish("resolved")

	var reasons []error
	f.Subscribe(Observer[string]{Done: func(reason error) { reasons = append(reasons, reason) }})

	f.Complete()
	f.Complete()
	f.Publish("ignored")

	assert.True(t, f.Completed())
	assert.Equal(t, "resolved", f.Value())
	require.Len(t, reasons, 1)
	assert.ErrorIs(t, reasons[0], errors.ErrFeedCompleted)

	// Late subscribers get the final value, then Done.
	var events []string
	f.Subscribe(Observer[string]{
		Next: func(v string) { events = append(events, v) },
		Done: func(reason error) { events = append(events, reason.Error()) },
	})
	assert.Equal(t, []string{"resolved", errors.ErrFeedCompleted.Error()}, events)
}

func TestFeed_Close(t *testing.T) {
	f := New(0)

	var got []int
	var reasons []error
	f.Subscribe(Observer[int]{
		Next: func(v int) { got = append(got, v) },
		Done: func(reason error) { reasons = append(reasons, reason) },
	})

	f.Close()
	f.Close()
	f.Publish(1)

	assert.True(t, f.Closed())
	assert.Equal(t, []int{0}, got)
	require.Len(t, reasons, 1)
	assert.ErrorIs(t, reasons[0], errors.ErrFeedClosed)

	// Subscribing to a closed feed replays nothing and finishes immediately.
	var lateDone error
	var lateValues int
	f.Subscribe(Observer[int]{
		Next: func(int) { lateValues++ },
		Done: func(reason error) { lateDone = reason },
	})
	assert.Equal(t, 0, lateValues)
	assert.ErrorIs(t, lateDone, errors.ErrFeedClosed)
}

func TestFeed_ConcurrentPublishKeepsSubscriberOrder(t *testing.T) {
	f := New(-1)

	var mu sync.Mutex
	var a, b []int
	f.SubscribeFunc(func(v int) { mu.Lock(); a = append(a, v); mu.Unlock() })
	f.SubscribeFunc(func(v int) { mu.Lock(); b = append(b, v); mu.Unlock() })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			f.Publish(v)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, a, 51)
	assert.Equal(t, a, b, "every subscriber observes the same emission order")
}
