package backoff

import (
	"context"
	"time"
)

// RetryableFunc reports whether an error may be retried. The pipeline
// passes syncline.Retryable so that only transient error kinds
// (connection, source-unavailable, load) are retried.
type RetryableFunc func(error) bool

// Retry invokes fn up to maxAttempts times, sleeping per the strategy
// between attempts. It stops early when fn succeeds, when retryable
// reports the error as terminal, or when ctx is cancelled. The last
// error is returned; context cancellation during a delay returns
// ctx.Err().
func Retry(ctx context.Context, s Strategy, maxAttempts int, retryable RetryableFunc, fn func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		if err := sleep(ctx, s.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
