package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errAttempt = errors.New("attempt failed")

func TestExponentialBackoff_Schedule(t *testing.T) {
	backoff := ExponentialBackoff(time.Second)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	clock := NewFakeClock(time.Now())
	policy := RetryPolicy{MaxAttempts: 3, Backoff: ExponentialBackoff(time.Second), Clock: clock}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(clock.Sleeps()) != 0 {
		t.Errorf("slept %v before a successful first attempt", clock.Sleeps())
	}
}

func TestRetry_ExhaustsBudgetWithBackoff(t *testing.T) {
	clock := NewFakeClock(time.Now())
	policy := RetryPolicy{MaxAttempts: 3, Backoff: ExponentialBackoff(time.Second), Clock: clock}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errAttempt
	})
	if !errors.Is(err, errAttempt) {
		t.Fatalf("err = %v, want wrapped errAttempt", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	sleeps := clock.Sleeps()
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleeps[%d] = %v, want %v", i, sleeps[i], want[i])
		}
	}
}

func TestRetry_RecoversMidBudget(t *testing.T) {
	clock := NewFakeClock(time.Now())
	policy := RetryPolicy{MaxAttempts: 3, Backoff: ExponentialBackoff(time.Second), Clock: clock}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errAttempt
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, Clock: NewFakeClock(time.Now())}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(errAttempt)
	})
	if !errors.Is(err, errAttempt) {
		t.Fatalf("err = %v, want errAttempt", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_CancelledContextAbortsLoop(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, Backoff: ConstantBackoff(time.Second), Clock: NewFakeClock(time.Now())}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := policy.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errAttempt
	})
	if !errors.Is(err, errAttempt) {
		t.Fatalf("err = %v, want wrapped errAttempt", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 — retries must stop once the caller cancels", calls)
	}
}

func TestRetry_AttemptTimeoutPropagates(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 1, AttemptTimeout: time.Millisecond}

	var sawDeadline bool
	_ = policy.Do(context.Background(), func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	})
	if !sawDeadline {
		t.Error("attempt context carried no deadline")
	}
}

func TestPermanent_NilPassthrough(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	if IsPermanent(errAttempt) {
		t.Error("plain error misreported as permanent")
	}
	if !IsPermanent(Permanent(errAttempt)) {
		t.Error("wrapped error not reported as permanent")
	}
}
