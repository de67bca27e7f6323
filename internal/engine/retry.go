package engine

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy governs how collaborator failures are retried before they
// surface as node failures: total attempt count and the initial backoff,
// doubled after each failure. Timeouts apply per collaborator call, not per
// node; a timed-out call is just another retryable failure.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy makes one attempt with no backoff.
var DefaultRetryPolicy = RetryPolicy{Attempts: 1}

// Do runs fn up to p.Attempts times, sleeping the (doubling) backoff
// between attempts. Context cancellation stops the retry loop immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff

	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}
