package faults

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryPolicy controls how transient failures are retried within a
// single logical provider call. Backoff is linear: base * (attempt+1).
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy matches the engine defaults: two retries with a
// 50ms base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 2, Delay: 50 * time.Millisecond}
}

// Retry runs fn, retrying retryable failures per the policy.
// Non-retryable kinds surface immediately.
func (p RetryPolicy) Retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= p.Attempts; attempt++ {
		if attempt > 0 {
			backoff := p.Delay * time.Duration(attempt)
			log.Debug().
				Str("op", op).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying after transient failure")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Wrap(KindTimeout, op+" canceled during backoff", ctx.Err())
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
	}
	return err
}
