// Package resolve turns a state feed into a single definitive answer.
//
// First waits for the first state that is neither loading nor disabled. Whichever
// of {settled state, timeout, feed completion, feed close, context cancellation}
// happens first decides the result, and the feed subscription is cancelled exactly
// once.
package resolve

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/feed"
	"github.com/c360/docfeed/metric"
)

// DefaultTimeout bounds First when no timeout is given.
const DefaultTimeout = 10 * time.Second

// Settler is a state that can tell whether it is a definitive answer.
type Settler interface {
	Settled() bool
}

// Outcome labels for metrics.
const (
	OutcomeResolved  = "resolved"
	OutcomeTimeout   = "timeout"
	OutcomeCompleted = "completed"
	OutcomeClosed    = "closed"
	OutcomeCancelled = "cancelled"
)

type result[S any] struct {
	state S
	err   error
}

// First subscribes to f and returns the first settled state. A timeout of zero or
// less rejects unless the current value is already settled. It returns
// errors.ErrResolveTimeout, errors.ErrFeedCompleted, errors.ErrFeedClosed or the
// context error when no settled state arrives.
func First[S Settler](ctx context.Context, f *feed.Feed[S], timeout time.Duration, metrics *metric.Metrics) (S, error) {
	start := time.Now()
	results := make(chan result[S], 1)

	var once sync.Once
	settle := func(r result[S]) {
		once.Do(func() { results <- r })
	}

	cancel := f.Subscribe(feed.Observer[S]{
		Next: func(st S) {
			if st.Settled() {
				settle(result[S]{state: st})
			}
		},
		Done: func(reason error) {
			settle(result[S]{err: reason})
		},
	})
	var cancelOnce sync.Once
	release := func() { cancelOnce.Do(cancel) }
	defer release()

	var zero S
	var r result[S]
	select {
	case r = <-results:
	default:
		if timeout <= 0 {
			r = result[S]{err: errors.ErrResolveTimeout}
			break
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case r = <-results:
		case <-timer.C:
			r = result[S]{err: errors.ErrResolveTimeout}
		case <-ctx.Done():
			r = result[S]{err: ctx.Err()}
		}
	}
	release()

	metrics.RecordResolve(outcome(r.err), time.Since(start))
	if r.err != nil {
		return zero, errors.Wrap(r.err, "resolve", "First", fmt.Sprintf("await settled state within %s", timeout))
	}
	return r.state, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeResolved
	case stderrors.Is(err, errors.ErrResolveTimeout):
		return OutcomeTimeout
	case stderrors.Is(err, errors.ErrFeedCompleted):
		return OutcomeCompleted
	case stderrors.Is(err, errors.ErrFeedClosed):
		return OutcomeClosed
	default:
		return OutcomeCancelled
	}
}
