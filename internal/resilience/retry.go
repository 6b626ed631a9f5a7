package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// BackoffFunc returns the delay to wait before attempt n. It is only
// consulted for n >= 2; the first attempt never waits.
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff returns the marketplace's standard backoff schedule:
// base·2^(n-1) before attempt n. With base = 1s that is 2s before the second
// attempt and 4s before the third. No jitter — retry volumes here are single
// calls, not fleets.
func ExponentialBackoff(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt <= 1 {
			return 0
		}
		return base << (attempt - 1)
	}
}

// ConstantBackoff waits d before every retry.
func ConstantBackoff(d time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt <= 1 {
			return 0
		}
		return d
	}
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so [RetryPolicy.Do] stops immediately instead of
// burning the remaining attempt budget. Use it for failures a retry cannot
// fix, like a 4xx response.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by [Permanent].
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// RetryPolicy is an explicit, reusable description of a bounded retry loop:
// how many attempts, how long each may take, and how long to wait in
// between. A policy value is immutable and safe to share.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget including the first call.
	// Values < 1 behave as 1.
	MaxAttempts int

	// Backoff yields the pre-attempt delay. Nil means no delay.
	Backoff BackoffFunc

	// AttemptTimeout bounds each individual attempt. Zero means the attempt
	// runs until the parent context cancels it.
	AttemptTimeout time.Duration

	// Clock drives backoff sleeps. Nil means the system clock.
	Clock Clock
}

// Do runs fn until it succeeds, returns a [Permanent] error, the attempt
// budget is exhausted, or ctx is cancelled. The context handed to fn carries
// the per-attempt timeout; cancelling ctx aborts both in-flight attempts and
// backoff waits.
//
// After exhaustion the last attempt's error is returned, wrapped with the
// attempt count.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	clock := p.Clock
	if clock == nil {
		clock = RealClock()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && p.Backoff != nil {
			if err := clock.Sleep(ctx, p.Backoff(attempt)); err != nil {
				return fmt.Errorf("retry aborted before attempt %d: %w", attempt, err)
			}
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		// The caller went away; further attempts are pointless.
		if ctx.Err() != nil {
			return fmt.Errorf("retry aborted during attempt %d: %w", attempt, lastErr)
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}
