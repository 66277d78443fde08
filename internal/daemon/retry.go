package daemon

import (
	"context"
	"time"
)

// idempotentRetryBudget bounds the total wall-clock time spent retrying
// an idempotent operation.
const idempotentRetryBudget = 30 * time.Second

// RetryIdempotent retries fn with exponential backoff (200ms, 400ms,
// 800ms, ...) until it succeeds, the context is cancelled, or the total
// elapsed time exceeds idempotentRetryBudget. retryable reports whether
// an error from fn is retryable; non-retryable errors are returned
// immediately.
func RetryIdempotent(ctx context.Context, fn func(ctx context.Context) error, retryable func(error) bool) error {
	deadline := time.Now().Add(idempotentRetryBudget)
	backoff := 200 * time.Millisecond

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if time.Now().Add(backoff).After(deadline) {
			return err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
	}
}

// pullBackoff is the fixed schedule for image pull retries: {1s, 2s, 4s}.
var pullBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// RetryPull runs fn up to len(pullBackoff)+1 times total, sleeping the
// fixed schedule between attempts, stopping early if notFound reports the
// error as a definitive "image not found" (fatal, not retried).
func RetryPull(ctx context.Context, fn func(ctx context.Context) error, notFound func(error) bool) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if notFound(lastErr) {
			return lastErr
		}
		if attempt >= len(pullBackoff) {
			return lastErr
		}

		timer := time.NewTimer(pullBackoff[attempt])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
