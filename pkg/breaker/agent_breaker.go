// Package breaker implements the runtime's two circuit-breaker flavors: a
// hand-written time-windowed breaker for agent/tool calls, and an
// integration-level consecutive-failure breaker built on sony/gobreaker for
// the Slack/PagerDuty clients.
package breaker

import (
	"sync"
	"time"
)

// State mirrors the three-state breaker model shared by both flavors.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// AgentBreakerConfig tunes the time-windowed breaker.
type AgentBreakerConfig struct {
	Window           time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

func DefaultAgentBreakerConfig() AgentBreakerConfig {
	return AgentBreakerConfig{
		Window:           5 * time.Minute,
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
	}
}

// AgentBreaker records failure timestamps within a sliding window and opens
// once FailureThreshold failures remain inside that window. Successes while
// CLOSED do not clear the failure history; only window aging does. After
// RecoveryTimeout, it admits exactly one concurrent probe.
type AgentBreaker struct {
	cfg AgentBreakerConfig
	now func() time.Time

	mu          sync.Mutex
	failures    []time.Time
	state       State
	openedAt    time.Time
	probing     bool
}

func NewAgentBreaker(cfg AgentBreakerConfig) *AgentBreaker {
	return &AgentBreaker{cfg: cfg, state: StateClosed, now: func() time.Time { return time.Now().UTC() }}
}

// Allow reports whether a call may proceed right now, and whether this call
// is the probe (so the caller must report its outcome via RecordProbeResult
// instead of the normal RecordSuccess/RecordFailure path).
func (b *AgentBreaker) Allow() (allowed bool, isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked()

	switch b.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.RecoveryTimeout {
			return false, false
		}
		if b.probing {
			// Concurrent probers beyond the first fast-fail.
			return false, false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true, true
	case StateHalfOpen:
		// Only the original prober proceeds; others fast-fail.
		return false, false
	default:
		return false, false
	}
}

// RecordSuccess leaves the breaker's failure window unchanged: a success
// in the CLOSED state does not clear or forgive recorded failures, it just
// means this particular call did not add one.
func (b *AgentBreaker) RecordSuccess() {
	// no-op: successes in CLOSED don't clear failures, only window aging
	// does. Kept as a named entry point for symmetry with RecordFailure
	// and for callers that don't distinguish probes.
}

// RecordFailure appends a failure timestamp and opens the breaker if the
// window now holds FailureThreshold or more.
func (b *AgentBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = append(b.failures, b.now())
	b.pruneLocked()

	if len(b.failures) >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// RecordProbeResult reports the outcome of the single HALF_OPEN probe.
func (b *AgentBreaker) RecordProbeResult(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if success {
		b.state = StateClosed
		b.failures = nil
		return
	}
	b.state = StateOpen
	b.openedAt = b.now()
}

func (b *AgentBreaker) pruneLocked() {
	cutoff := b.now().Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// CurrentState returns the breaker's state, for health/status reporting.
func (b *AgentBreaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	return b.state
}

// StateValue maps a State onto the same 0/1/2 scale the circuit_breaker_state
// gauge uses for the gobreaker-backed IntegrationBreaker, so both breaker
// flavors land on one metric.
func StateValue(s State) float64 {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Registry holds one AgentBreaker per agent id, process-local.
type Registry struct {
	cfg AgentBreakerConfig

	mu       sync.Mutex
	breakers map[string]*AgentBreaker
}

func NewRegistry(cfg AgentBreakerConfig) *Registry {
	return &Registry{cfg: cfg, breakers: map[string]*AgentBreaker{}}
}

func (r *Registry) For(agentID string) *AgentBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[agentID]
	if !ok {
		b = NewAgentBreaker(r.cfg)
		r.breakers[agentID] = b
	}
	return b
}
