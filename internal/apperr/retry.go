package apperr

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry runs fn until it succeeds, returns a terminal error or maxAttempts is
// reached. Only retryable taxonomy errors are retried.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
