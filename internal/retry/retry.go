// Package retry is the single retry/backoff policy shared by the session,
// the refresh scheduler and the post-auth router, so all three fail with
// the same semantics instead of each growing its own loop.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retryable operation: how many attempts, how the delay
// grows, and which errors are worth retrying at all.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Cap bounds the delay between attempts.
	Cap time.Duration
	// Retryable reports whether an error should be retried. A nil
	// predicate retries everything.
	Retryable func(error) bool
}

// Do runs op until it succeeds, the policy is exhausted, a non-retryable
// error occurs, or ctx is cancelled. The last error is returned.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.Initial
	bo.MaxInterval = p.Cap
	bo.RandomizationFactor = 0

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx))
}

// Delay returns the linear capped delay for the given 1-based attempt:
// min(Initial×attempt, Cap). Used where the caller owns its own timer loop
// instead of blocking in Do.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Initial * time.Duration(attempt)
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}
