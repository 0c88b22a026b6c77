// Package retry applies a bounded retry policy to a single operation and reports
// how many attempts were spent.
package retry

import (
	"context"
	"time"
)

// Backoff returns the pause before the given retry (1 is the pause after the first failure).
type Backoff func(retry int) time.Duration

// Fixed returns a Backoff that always waits d.
func Fixed(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Policy bounds how an operation is retried.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Retryable filters which errors are retried. Nil retries every error.
	Retryable func(error) bool
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, remaining int, err error)
}

// Default is three attempts with a fixed two second pause.
func Default() Policy {
	return Policy{MaxAttempts: 3, Backoff: Fixed(2 * time.Second)}
}

// Result carries the outcome of Do.
type Result[T any] struct {
	Value    T
	Err      error
	Attempts int
}

// OK reports whether the operation eventually succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// Do runs fn until it succeeds, the policy is exhausted, or ctx is done.
// The error of the final attempt is returned unchanged in Result.Err.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) Result[T] {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var res Result[T]
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		v, err := fn(ctx)
		if err == nil {
			res.Value = v
			res.Err = nil
			return res
		}
		res.Err = err

		if attempt == maxAttempts {
			break
		}
		if p.Retryable != nil && !p.Retryable(err) {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, maxAttempts-attempt, err)
		}
		var d time.Duration
		if p.Backoff != nil {
			d = p.Backoff(attempt)
		}
		if serr := sleep(ctx, d); serr != nil {
			return res
		}
	}
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
