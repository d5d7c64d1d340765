package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arome3/vigil/pkg/contract"
	"github.com/arome3/vigil/pkg/idgen"
	"github.com/arome3/vigil/pkg/models"
)

// callTriage sends a triage_request to the Triage agent and validates the
// response shape before returning it.
func (p *DelegationPipeline) callTriage(ctx context.Context, correlationID string, incidentType models.IncidentType, alertIDs []string) (*contract.TriageResponse, error) {
	req := contract.TriageRequest{IncidentType: string(incidentType), AlertIDs: alertIDs}
	payload := taskPayload("triage", map[string]any{"incident_type": req.IncidentType, "alert_ids": req.AlertIDs})

	raw, err := p.delegator.Send(ctx, agentTriage, envelope("coordinator", agentTriage, correlationID, payload), nil)
	if err != nil {
		return nil, err
	}

	var resp contract.TriageResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode triage response: %w", err)
	}
	if err := contract.ValidateTriageResponse(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// callInvestigate sends an investigate_request, carrying forward the most
// recent failure analysis on reflection iterations rather than the first
// one.
func (p *DelegationPipeline) callInvestigate(ctx context.Context, inc *models.Incident, previousFailureAnalysis string) (*contract.InvestigateResponse, error) {
	req := contract.NewInvestigateRequest(inc.IncidentID, inc.AlertIDs, previousFailureAnalysis)
	fields := map[string]any{"incident_id": req.IncidentID, "alert_ids": req.AlertIDs}
	if req.PreviousFailureAnalysis != "" {
		fields["previous_failure_analysis"] = req.PreviousFailureAnalysis
	}
	payload := taskPayload("investigate", fields)

	raw, err := p.delegator.Send(ctx, agentInvestigator, envelope("coordinator", agentInvestigator, inc.IncidentID, payload), nil)
	if err != nil {
		return nil, err
	}

	var resp contract.InvestigateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode investigate response: %w", err)
	}
	if err := contract.ValidateInvestigateResponse(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *DelegationPipeline) callThreatHunt(ctx context.Context, inc *models.Incident) (*contract.ThreatHuntResponse, error) {
	payload := taskPayload("threat_hunt", map[string]any{"incident_id": inc.IncidentID, "alert_ids": inc.AlertIDs})

	raw, err := p.delegator.Send(ctx, agentThreatHunter, envelope("coordinator", agentThreatHunter, inc.IncidentID, payload), nil)
	if err != nil {
		return nil, err
	}

	var resp contract.ThreatHuntResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode threat hunt response: %w", err)
	}
	if err := contract.ValidateThreatHuntResponse(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *DelegationPipeline) callPlan(ctx context.Context, inc *models.Incident, summary string) (*contract.PlanResponse, error) {
	payload := taskPayload("plan_remediation", map[string]any{"incident_id": inc.IncidentID, "summary": summary})

	raw, err := p.delegator.Send(ctx, agentCommander, envelope("coordinator", agentCommander, inc.IncidentID, payload), nil)
	if err != nil {
		return nil, err
	}

	var resp contract.PlanResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode plan response: %w", err)
	}
	if err := contract.ValidatePlanResponse(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *DelegationPipeline) callExecute(ctx context.Context, inc *models.Incident, actions []models.PlanAction) (*contract.ExecuteResponse, error) {
	resp, err := p.exec.HandleExecutePlan(ctx, inc.IncidentID, actions, 0)
	if err != nil {
		return nil, err
	}
	if err := contract.ValidateExecuteResponse(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *DelegationPipeline) callVerify(ctx context.Context, inc *models.Incident) (*contract.VerifyResponse, error) {
	criteria := buildSuccessCriteria(inc)
	req := &contract.VerifyRequest{
		IncidentID:       inc.IncidentID,
		AffectedServices: inc.AffectedServices,
		SuccessCriteria:  criteria,
	}
	if err := contract.ValidateVerifyRequest(req); err != nil {
		return nil, err
	}
	resp := p.verify.VerifyResolution(ctx, req, inc.ReflectionCount)
	return resp, nil
}

// buildSuccessCriteria derives a minimal verification contract from the
// incident's affected services for every verify call: an error-rate check
// per affected service.
func buildSuccessCriteria(inc *models.Incident) []models.SuccessCriterion {
	criteria := make([]models.SuccessCriterion, 0, len(inc.AffectedServices))
	for _, svc := range inc.AffectedServices {
		criteria = append(criteria, models.SuccessCriterion{
			Metric:      "error_rate",
			ServiceName: svc,
			Threshold:   0.05,
			Operator:    models.OperatorLTE,
		})
	}
	return criteria
}

func (p *DelegationPipeline) createIncident(ctx context.Context, alert *models.Alert, incidentType models.IncidentType, triage *contract.TriageResponse) (*models.Incident, error) {
	now := p.now()
	inc := &models.Incident{
		IncidentID:      idgen.NewIncidentID(now),
		Status:          models.StatusDetected,
		IncidentType:    incidentType,
		Severity:        severityFromAlert(alert),
		PriorityScore:   triage.PriorityScore,
		AlertIDs:        []string{alert.AlertID},
		AffectedServices: affectedServicesFromAlert(alert),
		CreatedAt:       now,
		StateTimestamps: map[models.Status]time.Time{models.StatusDetected: now},
	}
	return p.incidents.Create(ctx, inc)
}
