package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/syncline/syncline/backoff"
)

func TestConstantDelay(t *testing.T) {
	c := backoff.NewConstant(2 * time.Second)
	for _, attempt := range []int{1, 5, 100} {
		if got := c.Delay(attempt); got != 2*time.Second {
			t.Fatalf("Delay(%d) = %v, want 2s", attempt, got)
		}
	}
}

func TestExponentialDoubles(t *testing.T) {
	e := backoff.NewExponential(1*time.Second, 1*time.Minute)

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := e.Delay(i + 1); got != w {
			t.Fatalf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestExponentialCapsAtMax(t *testing.T) {
	e := backoff.NewExponential(1*time.Second, 10*time.Second)
	if got := e.Delay(20); got != 10*time.Second {
		t.Fatalf("Delay(20) = %v, want 10s cap", got)
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	j := backoff.NewExponentialWithJitter(1*time.Second, 8*time.Second)
	for attempt := 1; attempt <= 6; attempt++ {
		for range 50 {
			d := j.Delay(attempt)
			if d < 0 || d > 8*time.Second {
				t.Fatalf("Delay(%d) = %v out of [0, 8s]", attempt, d)
			}
		}
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := backoff.Retry(context.Background(), backoff.NewConstant(0), 5,
		func(error) bool { return true },
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnTerminalError(t *testing.T) {
	terminal := errors.New("terminal")
	calls := 0
	err := backoff.Retry(context.Background(), backoff.NewConstant(0), 5,
		func(err error) bool { return !errors.Is(err, terminal) },
		func(context.Context) error {
			calls++
			return terminal
		})
	if !errors.Is(err, terminal) {
		t.Fatalf("err = %v, want terminal", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry of terminal errors)", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := backoff.Retry(context.Background(), backoff.NewConstant(0), 3,
		func(error) bool { return true },
		func(context.Context) error {
			calls++
			return boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := backoff.Retry(ctx, backoff.NewConstant(time.Hour), 3,
		func(error) bool { return true },
		func(context.Context) error { return errors.New("always") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
