// Package retry provides bounded retry with backoff, keeping timing details
// out of the playback state machine.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy describes a bounded retry schedule. Attempt 0 runs immediately;
// each retry waits Delay * Backoff^retries before running.
type Policy struct {
	// Retries is the number of retries after the first attempt.
	Retries int
	// Delay is the wait before the first retry.
	Delay time.Duration
	// Backoff multiplies the delay after each retry (1.0 = constant).
	Backoff float64
}

// Do runs fn until it succeeds, the policy is exhausted, or ctx is
// cancelled. fn receives the attempt number starting at 0. Cancellation is
// observed during the backoff sleep and wins over the last attempt error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	delay := p.Delay
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = 1
	}

	var err error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if attempt > 0 {
			if serr := sleep(ctx, delay); serr != nil {
				return serr
			}
			delay = time.Duration(float64(delay) * backoff)
		}

		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.error
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

// Permanent marks an error as not worth retrying. Do returns the wrapped
// error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

type permanentError struct{ error }

func (e *permanentError) Unwrap() error { return e.error }

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
