package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/arome3/vigil/pkg/vigilerr"
)

// IntegrationBreakerConfig tunes the consecutive-failure breaker used for
// third-party integrations (Slack, PagerDuty).
type IntegrationBreakerConfig struct {
	Name             string
	FailureThreshold uint32
	ResetTimeout     time.Duration
}

func DefaultIntegrationBreakerConfig(name string) IntegrationBreakerConfig {
	return IntegrationBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// IntegrationBreaker wraps gobreaker so only retryable errors count toward
// the consecutive-failure threshold; non-retryable 4xx-style failures are
// reported to gobreaker as successes (leaving ConsecutiveFailures at 0)
// even though Call still returns the original error to its caller.
type IntegrationBreaker struct {
	cb *gobreaker.CircuitBreaker[outcome]
}

// outcome carries both the op's result and its (possibly non-retryable)
// error out of gobreaker.Execute, since Execute's own error return is
// reserved for signaling a countable failure.
type outcome struct {
	value any
	err   error
}

func NewIntegrationBreaker(cfg IntegrationBreakerConfig) *IntegrationBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &IntegrationBreaker{cb: gobreaker.NewCircuitBreaker[outcome](settings)}
}

// Call executes op through the breaker. Only errors for which retryable
// returns true advance the consecutive-failure counter (invariant: a
// non-retryable 4xx through N calls keeps state CLOSED).
func (b *IntegrationBreaker) Call(ctx context.Context, op func(ctx context.Context) (any, error), retryable func(error) bool) (any, error) {
	result, execErr := b.cb.Execute(func() (outcome, error) {
		value, opErr := op(ctx)
		if opErr != nil && retryable(opErr) {
			// Returning a non-nil error is what gobreaker counts toward
			// ConsecutiveFailures.
			return outcome{err: opErr}, opErr
		}
		// Non-retryable failure or success: report success to gobreaker so
		// the counter resets/stays at zero, but still carry the original
		// error (if any) back to the caller via outcome.
		return outcome{value: value, err: opErr}, nil
	})

	if execErr != nil {
		if execErr == gobreaker.ErrOpenState || execErr == gobreaker.ErrTooManyRequests {
			return nil, &vigilerr.IntegrationError{Provider: b.cb.Name(), Err: vigilerr.ErrCircuitOpen, Retryable: false}
		}
		// A retryable failure: gobreaker's Execute returns the same error
		// we passed as the second return value above.
		return nil, execErr
	}

	return result.value, result.err
}

// State exposes the breaker's current gobreaker state for health reporting.
func (b *IntegrationBreaker) State() gobreaker.State {
	return b.cb.State()
}
