package clients

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds retries for one logical call. MaxElapsed caps the
// total time including the original attempt; the action deadline on ctx
// still wins when shorter.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
	JitterFraction  float64
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy matches the standard action reliability defaults:
// two retries starting at 250ms, doubling, with 20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      2,
		InitialInterval: 250 * time.Millisecond,
		Multiplier:      2.0,
		JitterFraction:  0.2,
		MaxElapsed:      45 * time.Second,
	}
}

// withRetry runs op, retrying transient failures per the policy.
// Non-retryable errors (4xx other than 429, auth failures, decode
// errors) stop immediately.
func withRetry(ctx context.Context, policy RetryPolicy, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.Multiplier = policy.Multiplier
	bo.RandomizationFactor = policy.JitterFraction
	bo.MaxElapsedTime = policy.MaxElapsed

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	limited := backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(policy.MaxRetries))
	return backoff.Retry(wrapped, limited)
}
