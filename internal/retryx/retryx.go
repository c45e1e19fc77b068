// Package retryx wraps cenkalti/backoff with the service's retry
// contract: a bounded number of attempts with exponential backoff and
// a per-call retryability predicate. Cancellation is honored between
// attempts, never mid-backoff.
package retryx

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts bounds the total number of tries, including the
	// first. Values below 1 behave as 1.
	MaxAttempts uint64
	// BaseDelay seeds the exponential backoff between attempts.
	BaseDelay time.Duration
	// MaxDelay caps the backoff interval.
	MaxDelay time.Duration
	// Retryable decides whether a given error is worth another
	// attempt. A nil predicate retries everything.
	Retryable func(error) bool
}

// DefaultPolicy matches the verification-chain contract: 3 attempts,
// exponential backoff starting at 2 seconds.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
		Retryable:   retryable,
	}
}

// Permanent marks err as non-retryable regardless of the policy's
// predicate.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op under the policy. Non-retryable errors and context
// cancellation end the sequence immediately; the last error is
// returned once attempts are exhausted.
func Do(ctx context.Context, p Policy, op func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		b.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall time

	wrapped := func() error {
		if err := op(); err != nil {
			if p.Retryable != nil && !p.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	return backoff.Retry(
		wrapped,
		backoff.WithContext(backoff.WithMaxRetries(b, p.MaxAttempts-1), ctx),
	)
}
