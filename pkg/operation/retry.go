package operation

import (
	"context"
	"time"
)

// RetryPolicy controls how Retry re-runs a failing function.
// MaxAttempts includes the first attempt. For example:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
type RetryPolicy struct {
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Zero means
	// retries happen immediately.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the delay after each failed attempt.
	// Values <= 0 default to 2.0.
	BackoffMultiplier float64

	// MaxBackoff caps the delay between attempts. <= 0 means no cap.
	MaxBackoff time.Duration
}

// Retry wraps fn so that a non-nil return is retried according to policy.
// The wrapped function finishes the operation with the last error once
// attempts are exhausted, like any TaskFunc. fn must not finish the
// operation itself.
//
// Backoff waits are context-aware: cancellation during a wait (or between
// attempts) stops retrying and fails with the context error.
func Retry(fn TaskFunc, policy RetryPolicy) TaskFunc {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	return func(ctx context.Context, op *Operation) error {
		backoff := policy.InitialBackoff
		var lastErr error

		for attempt := 1; attempt <= maxAttempts; attempt++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			lastErr = fn(ctx, op)
			if lastErr == nil {
				return nil
			}
			if attempt == maxAttempts {
				break
			}

			if backoff > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backoff):
				}

				next := time.Duration(float64(backoff) * multiplier)
				if policy.MaxBackoff > 0 && next > policy.MaxBackoff {
					next = policy.MaxBackoff
				}
				backoff = next
			}
		}
		return lastErr
	}
}
