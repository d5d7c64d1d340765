package coordinator

import (
	"context"

	"github.com/arome3/vigil/pkg/models"
)

// escalate re-reads the incident with fresh concurrency tokens, refuses to
// double-latch an already-escalated incident, transitions to escalated,
// stamps escalation_triggered/escalation_reason, and fires a notification.
// Escalation is a terminal, best-effort operation: failures here are logged
// but never returned to the caller, since there is no further state to
// transition to on an escalation failure.
func (p *DelegationPipeline) escalate(ctx context.Context, inc *models.Incident, reason string) {
	fresh, err := p.incidents.Get(ctx, inc.IncidentID)
	if err != nil {
		log.Error("failed to re-read incident before escalation", "incident_id", inc.IncidentID, "error", err)
		fresh = inc
	}

	if fresh.EscalationTriggered {
		log.Info("incident already escalated, refusing to double-latch", "incident_id", fresh.IncidentID, "existing_reason", fresh.EscalationReason)
		return
	}

	updated, err := p.transition(ctx, fresh, models.StatusEscalated)
	if err != nil {
		log.Error("failed to transition incident to escalated", "incident_id", fresh.IncidentID, "reason", reason, "error", err)
		updated = fresh
	}

	updated.EscalationTriggered = true
	updated.EscalationReason = reason
	if _, err := p.incidents.Update(ctx, updated); err != nil {
		log.Error("failed to persist escalation reason", "incident_id", updated.IncidentID, "error", err)
	}

	log.Info("incident escalated", "incident_id", updated.IncidentID, "reason", reason)
	p.scheduleTelemetryCleanup(updated.IncidentID)

	if p.notifier != nil {
		go p.notifier.NotifyEscalation(context.Background(), updated, reason)
	}
}
