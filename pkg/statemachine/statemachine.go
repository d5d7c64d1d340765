// Package statemachine implements the incident status transition table:
// the allowed-transitions graph, the evaluateGuard contract, and the
// transition write with first-write-wins timestamping and optimistic
// concurrency retry.
package statemachine

import (
	"context"
	"fmt"
	"time"

	"github.com/arome3/vigil/pkg/logging"
	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/storage"
	"github.com/arome3/vigil/pkg/vigilerr"
)

var log = logging.Component("statemachine")

// allowed is the transition graph. Terminal states have no outgoing edges.
var allowed = map[models.Status][]models.Status{
	models.StatusDetected:          {models.StatusTriaged, models.StatusSuppressed, models.StatusEscalated},
	models.StatusTriaged:           {models.StatusInvestigating, models.StatusSuppressed, models.StatusEscalated},
	models.StatusInvestigating:     {models.StatusThreatHunting, models.StatusPlanning, models.StatusEscalated},
	models.StatusThreatHunting:     {models.StatusPlanning, models.StatusEscalated},
	models.StatusPlanning:          {models.StatusExecuting, models.StatusAwaitingApproval, models.StatusEscalated},
	models.StatusAwaitingApproval:  {models.StatusExecuting, models.StatusEscalated},
	models.StatusExecuting:         {models.StatusVerifying, models.StatusEscalated},
	models.StatusVerifying:         {models.StatusResolved, models.StatusReflecting, models.StatusEscalated},
	models.StatusReflecting:        {models.StatusInvestigating, models.StatusEscalated},
}

// GuardContext carries the information a guard needs beyond the incident
// document itself.
type GuardContext struct {
	MaxReflections int
}

// GuardResult is evaluateGuard's return shape.
type GuardResult struct {
	Allowed    bool
	RedirectTo models.Status
	Reason     string
}

// EvaluateGuard applies the one conditional rule in the transition table:
// reflecting -> investigating is only allowed while reflection_count stays
// under the configured cap; past it, the transition is forced to escalated.
// Every other edge in allowed is unconditionally permitted.
func EvaluateGuard(doc *models.Incident, from, to models.Status, gctx GuardContext) GuardResult {
	if !isAllowedEdge(from, to) {
		return GuardResult{Allowed: false, Reason: fmt.Sprintf("transition %s -> %s is not in the allowed graph", from, to)}
	}

	if from == models.StatusReflecting && to == models.StatusInvestigating {
		if doc.ReflectionCount >= gctx.MaxReflections {
			return GuardResult{
				Allowed:    false,
				RedirectTo: models.StatusEscalated,
				Reason:     "reflection_limit_reached",
			}
		}
	}

	return GuardResult{Allowed: true}
}

func isAllowedEdge(from, to models.Status) bool {
	for _, candidate := range allowed[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Machine applies guarded transitions against the incident store.
type Machine struct {
	incidents *storage.IncidentStore
	gctx      GuardContext
	now       func() time.Time
}

func New(incidents *storage.IncidentStore, maxReflections int) *Machine {
	return &Machine{
		incidents: incidents,
		gctx:      GuardContext{MaxReflections: maxReflections},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Transition moves doc from its current status toward `to`, honoring any
// guard redirect, and writes the result with first-write-wins timestamping
// and a single fetch-and-retry on optimistic concurrency conflict.
func (m *Machine) Transition(ctx context.Context, doc *models.Incident, to models.Status) (*models.Incident, error) {
	from := doc.Status
	if from == to {
		return doc, nil
	}

	result := EvaluateGuard(doc, from, to, m.gctx)
	target := to
	if !result.Allowed {
		if result.RedirectTo == "" {
			return nil, fmt.Errorf("transition %s -> %s refused: %s", from, to, result.Reason)
		}
		target = result.RedirectTo
		log.Info("guard redirected transition", "from", from, "requested", to, "redirect_to", target, "reason", result.Reason)
	}

	return m.write(ctx, doc, target)
}

func (m *Machine) write(ctx context.Context, doc *models.Incident, target models.Status) (*models.Incident, error) {
	doc.Status = target
	if doc.StateTimestamps == nil {
		doc.StateTimestamps = map[models.Status]time.Time{}
	}
	if _, exists := doc.StateTimestamps[target]; !exists {
		doc.StateTimestamps[target] = m.now()
	}

	updated, err := m.incidents.Update(ctx, doc)
	if err == nil {
		return updated, nil
	}
	if err != vigilerr.ErrConcurrencyConflict {
		return nil, fmt.Errorf("write transition to %s: %w", target, err)
	}

	// Conflict: re-read and retry once. If another worker already landed on
	// the target state, treat it as a successful idempotent transition.
	fresh, getErr := m.incidents.Get(ctx, doc.IncidentID)
	if getErr != nil {
		return nil, fmt.Errorf("re-read incident after conflict: %w", getErr)
	}
	if fresh.Status == target {
		return fresh, nil
	}

	fresh.Status = target
	if fresh.StateTimestamps == nil {
		fresh.StateTimestamps = map[models.Status]time.Time{}
	}
	if _, exists := fresh.StateTimestamps[target]; !exists {
		fresh.StateTimestamps[target] = m.now()
	}
	retried, err := m.incidents.Update(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("retry transition write to %s: %w", target, err)
	}
	return retried, nil
}
