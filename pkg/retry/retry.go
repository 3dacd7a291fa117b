// Package retry runs operations with capped exponential backoff.
//
// It is used for write paths against the document store (compare-and-swap
// updates, bucket creation, the initial connection). Feed subscriptions are
// never retried here: a failing subscription surfaces as an error state and the
// caller decides.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so that Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Policy describes how often and how fast to retry.
type Policy struct {
	// Attempts is the total number of calls, including the first. Values below
	// one mean a single call.
	Attempts int
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps the delay between attempts.
	Max time.Duration
	// Factor multiplies the delay after every attempt.
	Factor float64
	// Jitter adds up to a quarter of the delay at random.
	Jitter bool
	// Retryable, when set, decides whether an error is worth another attempt.
	Retryable func(error) bool
}

// Default is the policy for ordinary store writes.
func Default() Policy {
	return Policy{
		Attempts: 3,
		Initial:  100 * time.Millisecond,
		Max:      5 * time.Second,
		Factor:   2,
		Jitter:   true,
	}
}

// Quick retries often with short pauses, for contended CAS updates.
func Quick() Policy {
	return Policy{
		Attempts: 10,
		Initial:  10 * time.Millisecond,
		Max:      time.Second,
		Factor:   1.5,
		Jitter:   true,
	}
}

// Validate rejects negative durations and factors.
func (p Policy) Validate() error {
	switch {
	case p.Initial < 0:
		return errors.New("retry: Initial cannot be negative")
	case p.Max < 0:
		return errors.New("retry: Max cannot be negative")
	case p.Factor < 0:
		return errors.New("retry: Factor cannot be negative")
	case p.Max > 0 && p.Initial > p.Max:
		return errors.New("retry: Max must be >= Initial")
	}
	return nil
}

// Delay returns the pause after the given attempt (1-based), without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.Initial)
	factor := p.Factor
	if factor == 0 {
		factor = 1
	}
	for i := 1; i < attempt; i++ {
		d *= factor
		if p.Max > 0 && d >= float64(p.Max) {
			return p.Max
		}
	}
	return time.Duration(d)
}

func (p Policy) pause(attempt int) time.Duration {
	d := p.Delay(attempt)
	if p.Jitter && d >= 4 {
		d += rand.N(d / 4)
	}
	return d
}

// Do calls fn until it succeeds, the attempts are used up, the error is
// permanent or not retryable, or ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if err := p.Validate(); err != nil {
		return err
	}
	attempts := max(p.Attempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) || (p.Retryable != nil && !p.Retryable(err)) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.pause(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff after attempt %d: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", attempts, lastErr)
}

// Value is Do for functions that return a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}
