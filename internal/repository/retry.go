package repository

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultTxRetries  = 5
	defaultRetryBase  = 10 * time.Millisecond
	maxBackoffShift   = 10
	maxNumberAttempts = 8
)

// newBackOff grows the wait exponentially from base, jittered, capped at
// base<<maxBackoffShift. A zero base retries immediately.
func newBackOff(base time.Duration) backoff.BackOff {
	if base <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.MaxInterval = base << maxBackoffShift
	b.MaxElapsedTime = 0
	return b
}

// retry runs fn until it succeeds, returns an error retryable rejects, or
// attempts run out. The last error is returned on exhaustion, ctx.Err() when
// ctx ends first.
func retry(ctx context.Context, attempts int, base time.Duration, retryable func(error) bool, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(base), uint64(attempts-1)), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
