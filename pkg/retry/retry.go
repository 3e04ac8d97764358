// Package retry re-runs idempotent venue reads that failed transiently.
// Market orders must never pass through here.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds the retry schedule.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy suits the ticker and balance endpoints: both venues rate
// limit aggressively, and the decision loop re-polls every 500 ms anyway,
// so two quick retries are all a read is worth.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 250 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// IsTransientFunc decides whether an error is worth another attempt.
type IsTransientFunc func(error) bool

// Do runs fn until it succeeds, the error is permanent, the attempts are
// exhausted, or ctx is cancelled. The wait between attempts doubles each
// round with up to 50% jitter added, capped at MaxBackoff.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	backoff := policy.InitialBackoff

	var err error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isTransient(err) || attempt == policy.MaxAttempts-1 {
			return err
		}

		wait := backoff + time.Duration(rand.Int63n(int64(backoff/2)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if backoff *= 2; backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return err
}
