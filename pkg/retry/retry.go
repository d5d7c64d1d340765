// Package retry implements the runtime's backoff primitives: fixed-delay
// and exponential-with-jitter retry, each issuing a fresh context per
// attempt so a caller's deadline race aborts cleanly between attempts
// rather than leaking a canceled context into the next one.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy configures a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter, when true, scales each computed delay by a random factor in
	// [0.5, 1.5) to avoid synchronized retry storms across workers.
	Jitter bool
}

// FixedPolicy retries up to maxAttempts times with a constant delay.
func FixedPolicy(maxAttempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: delay, MaxDelay: delay}
}

// ExponentialPolicy doubles the delay each attempt up to maxDelay, with
// jitter enabled by default to spread out concurrent retries.
func ExponentialPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) Policy {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, MaxDelay: maxDelay, Jitter: true}
}

func (p Policy) delayFor(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.Jitter {
		factor := 0.5 + rand.Float64()
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}

// Op is a unit of retryable work. It receives a context scoped to this
// single attempt, not shared across attempts.
type Op func(ctx context.Context) error

// Do runs op under policy, stopping early if ctx is canceled between
// attempts. Each attempt gets its own child context derived from ctx, so a
// canceled attempt never poisons a subsequent one.
func Do(ctx context.Context, policy Policy, op Op) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithCancel(ctx)
		lastErr = op(attemptCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.delayFor(attempt)):
		}
	}
	return lastErr
}

// WithTimeout wraps op so a single attempt is bounded by timeout, mirroring
// the deadline-race pattern used by the Executor and Verifier sub-cores.
func WithTimeout(ctx context.Context, timeout time.Duration, op Op) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}
