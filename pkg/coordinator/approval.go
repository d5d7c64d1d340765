package coordinator

import (
	"context"
	"time"

	"github.com/arome3/vigil/pkg/executor"
	"github.com/arome3/vigil/pkg/models"
)

const (
	agentApprovalWorkflow  = "workflows"
	incidentApprovalPoll   = 15 * time.Second
	maxConsecutiveApproval = 3
)

// waitForApproval polls the incident document itself for an approval
// decision recorded against the whole remediation plan, distinct from the
// Executor's per-action approval gate which polls the approval-response
// index for a decision on one action at a time.
func (p *DelegationPipeline) waitForApproval(ctx context.Context, inc *models.Incident) (executor.ApprovalOutcome, error) {
	payload := taskPayload("request_approval", map[string]any{
		"incident_id": inc.IncidentID,
		"severity":    string(inc.Severity),
	})
	if _, err := p.delegator.Send(ctx, agentApprovalWorkflow, envelope("coordinator", agentApprovalWorkflow, inc.IncidentID, payload), nil); err != nil {
		log.Warn("failed to dispatch approval request envelope, polling anyway", "incident_id", inc.IncidentID, "error", err)
	}

	deadline := p.now().Add(p.approvalTimeout)
	consecutiveFailures := 0

	ticker := time.NewTicker(incidentApprovalPoll)
	defer ticker.Stop()

	for {
		if p.now().After(deadline) {
			return executor.ApprovalOutcomeTimeout, nil
		}

		fresh, err := p.incidents.Get(ctx, inc.IncidentID)
		if err != nil {
			consecutiveFailures++
			if consecutiveFailures >= maxConsecutiveApproval {
				return "", err
			}
		} else {
			consecutiveFailures = 0
			switch fresh.ApprovalStatus {
			case models.ApprovalApproved:
				return executor.ApprovalOutcomeApproved, nil
			case models.ApprovalRejected:
				return executor.ApprovalOutcomeRejected, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
