package rpcclient

import (
	"context"
	"time"
)

// backoff computes the exponential retry delay for a failed call:
// 10s → 20s → 40s → ... capped at 10m. Same schedule this codebase has
// always used for unreachable peers, applied here to an unreachable node.
func backoff(attempt int) time.Duration {
	const (
		base       = 10 * time.Second
		max        = 10 * time.Minute
		multiplier = 2.0
	)
	delay := base
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if delay > max {
			return max
		}
	}
	return delay
}

// WithRetry retries fn against transient errors (anything but ErrNotFound
// and RPCError, which are semantic "the node answered and said no")
// using the exponential backoff schedule, until ctx is cancelled or
// maxAttempts is exhausted. maxAttempts <= 0 means retry indefinitely.
func WithRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	var err error
	for attempt := 0; maxAttempts <= 0 || attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if _, ok := err.(*RPCError); ok {
			return err
		}
		if err == ErrNotFound {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return err
}
