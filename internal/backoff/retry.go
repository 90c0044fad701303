package backoff

import "context"

// Retry runs fn up to maxAttempts times, sleeping with exponential backoff
// between attempts. retryable reports whether an error is worth another
// attempt; a nil retryable treats every error as retryable. Cancellation
// during a sleep returns the context error immediately.
func Retry[T any](ctx context.Context, policy Policy, maxAttempts int, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}
		if err := SleepWithBackoff(ctx, policy, attempt); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}
