package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arome3/vigil/pkg/a2a"
	"github.com/arome3/vigil/pkg/contract"
	"github.com/arome3/vigil/pkg/executor"
	"github.com/arome3/vigil/pkg/idgen"
	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/statemachine"
	"github.com/arome3/vigil/pkg/storage"
	"github.com/arome3/vigil/pkg/verifier"
)

const (
	telemetryCleanupGrace = 60 * time.Second

	agentTriage       = "triage"
	agentInvestigator = "investigator"
	agentThreatHunter = "threat_hunter"
	agentCommander    = "commander"
	agentExecutor     = "executor"
	agentVerifier     = "verifier"

	defaultApprovalTimeout   = 15 * time.Minute
	defaultHeartbeatInterval = 30 * time.Second
)

// Delegator is the narrow surface the pipeline needs from the A2A client:
// send one envelope to one agent and get its raw JSON body back.
type Delegator interface {
	Send(ctx context.Context, agentID string, envelope *models.Envelope, opts *a2a.SendOptions) (json.RawMessage, error)
}

// TelemetryCleaner removes transient observability rows correlated to a
// resolved/escalated incident, once the grace period has passed.
type TelemetryCleaner interface {
	DeleteByFilter(ctx context.Context, index string, filters map[string]any) (int64, error)
}

// Reporter triggers a per-incident retrospective on resolution. Implemented
// by analyst.Scheduler; left unset, resolution never tries to report.
type Reporter interface {
	TriggerIncidentReport(ctx context.Context, incident *models.Incident)
}

// DelegationPipeline implements the security and operational incident
// orchestrators plus the reflection loop and escalation helper they share.
type DelegationPipeline struct {
	incidents *storage.IncidentStore
	machine   *statemachine.Machine
	delegator Delegator
	exec      *executor.Executor
	verify    *verifier.Verifier
	notifier  Notifier
	telemetry TelemetryCleaner
	reporter  Reporter

	suppressThreshold float64
	maxReflections    int
	approvalTimeout   time.Duration
	heartbeatInterval time.Duration

	now func() time.Time
}

// Notifier delivers a fire-and-forget escalation or approval-request
// notice to whatever outbound channel is wired (Slack, PagerDuty).
type Notifier interface {
	NotifyEscalation(ctx context.Context, incident *models.Incident, reason string)
	NotifyApprovalRequested(ctx context.Context, incident *models.Incident, actions []models.PlanAction)
}

func NewDelegationPipeline(
	incidents *storage.IncidentStore,
	machine *statemachine.Machine,
	delegator Delegator,
	exec *executor.Executor,
	verify *verifier.Verifier,
	notifier Notifier,
	suppressThreshold float64,
	maxReflections int,
	approvalTimeout time.Duration,
	heartbeatInterval time.Duration,
) *DelegationPipeline {
	if approvalTimeout <= 0 {
		approvalTimeout = defaultApprovalTimeout
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	return &DelegationPipeline{
		incidents:         incidents,
		machine:           machine,
		delegator:         delegator,
		exec:              exec,
		verify:            verify,
		notifier:          notifier,
		suppressThreshold: suppressThreshold,
		maxReflections:    maxReflections,
		approvalTimeout:   approvalTimeout,
		heartbeatInterval: heartbeatInterval,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// SetTelemetryCleaner wires the store used to clean up transient
// observability rows after an incident reaches a terminal state. Left
// unset, cleanup is a no-op -- telemetry rows just accumulate, which is
// safe, not silently wrong.
func (p *DelegationPipeline) SetTelemetryCleaner(cleaner TelemetryCleaner) {
	p.telemetry = cleaner
}

// SetReporter wires the scheduler that triggers a per-incident retrospective
// on resolution. Left unset, resolve() skips reporting entirely.
func (p *DelegationPipeline) SetReporter(reporter Reporter) {
	p.reporter = reporter
}

// scheduleTelemetryCleanup deletes agent-telemetry rows correlated to
// incidentID after a grace period, mirroring the teacher's
// scheduleEventCleanup: consumers (dashboards, the webhook server's
// /metrics scrape window) get time to read the rows before they are
// removed. watcher-telemetry is poll-cycle, not incident-correlated, so
// it isn't part of this sweep.
func (p *DelegationPipeline) scheduleTelemetryCleanup(incidentID string) {
	if p.telemetry == nil {
		return
	}
	time.AfterFunc(telemetryCleanupGrace, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := p.telemetry.DeleteByFilter(ctx, "agent-telemetry", map[string]any{"correlation_id": incidentID}); err != nil {
			log.Warn("telemetry cleanup failed", "incident_id", incidentID, "error", err)
		}
	})
}

// startHeartbeat periodically touches the incident's LastHeartbeatAt for
// orphan detection while a pipeline phase is in flight, mirroring the
// teacher's runHeartbeat/last_interaction_at pattern. The returned func
// stops the ticker; callers defer it immediately.
func (p *DelegationPipeline) startHeartbeat(ctx context.Context, incidentID string) func() {
	heartbeatCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(p.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				if err := p.incidents.Touch(heartbeatCtx, incidentID); err != nil {
					log.Warn("heartbeat update failed", "incident_id", incidentID, "error", err)
				}
			}
		}
	}()
	return cancel
}

// ProcessAlert resolves the incident type from the alert's rule_id prefix
// and dispatches to the matching flow. Implements the WatcherPool.Pipeline
// interface.
func (p *DelegationPipeline) ProcessAlert(ctx context.Context, alert *models.Alert) error {
	if alert.IsSentinelOrOps() {
		return p.operationalFlow(ctx, alert)
	}
	return p.securityFlow(ctx, alert)
}

func envelope(fromAgent, toAgent, correlationID string, payload map[string]any) *models.Envelope {
	return &models.Envelope{
		MessageID:     idgen.NewMessageID(),
		FromAgent:     fromAgent,
		ToAgent:       toAgent,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Payload:       payload,
	}
}

func taskPayload(task string, fields map[string]any) map[string]any {
	out := map[string]any{"task": task}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// securityFlow runs a security alert through triage, investigation, an
// optional threat hunt, planning, execution and verification.
func (p *DelegationPipeline) securityFlow(ctx context.Context, alert *models.Alert) error {
	correlationID := alert.AlertID

	triageResp, err := p.callTriage(ctx, correlationID, models.IncidentTypeSecurity, []string{alert.AlertID})
	if err != nil {
		log.Error("triage call failed, cannot escalate without an incident document", "alert_id", alert.AlertID, "error", err)
		return fmt.Errorf("triage failed for alert %s: %w", alert.AlertID, err)
	}

	if triageResp.PriorityScore < p.suppressThreshold {
		log.Info("alert suppressed below priority threshold", "alert_id", alert.AlertID, "priority_score", triageResp.PriorityScore)
		return nil
	}

	inc, err := p.createIncident(ctx, alert, models.IncidentTypeSecurity, triageResp)
	if err != nil {
		return fmt.Errorf("create incident for alert %s: %w", alert.AlertID, err)
	}
	defer p.startHeartbeat(ctx, inc.IncidentID)()

	inc, err = p.transition(ctx, inc, models.StatusTriaged)
	if err != nil {
		return err
	}
	inc, err = p.transition(ctx, inc, models.StatusInvestigating)
	if err != nil {
		return err
	}

	investigateResp, err := p.callInvestigate(ctx, inc, "")
	if err != nil {
		p.escalate(ctx, inc, "investigation_failed")
		return err
	}
	inc.InvestigationSummary = investigateResp.Summary
	inc.AffectedServices = investigateResp.AffectedAssets

	if investigateResp.RecommendedNext == "threat_hunt" {
		inc, err = p.transition(ctx, inc, models.StatusThreatHunting)
		if err != nil {
			return err
		}
		huntResp, err := p.callThreatHunt(ctx, inc)
		if err != nil {
			p.escalate(ctx, inc, "threat_hunt_failed")
			return err
		}
		if conflict := checkConflictingAssessments(investigateResp, huntResp); conflict != "" {
			p.escalate(ctx, inc, "conflicting_assessments")
			return nil
		}
	}

	return p.planAndExecute(ctx, inc, investigateResp.Summary)
}

// operationalFlow runs the same spine as securityFlow minus the threat
// hunt, with a confidence-gated light investigation pass: a high-confidence
// change correlation gets one investigator call, and anything else skips
// the investigator and plans from a synthesized summary.
func (p *DelegationPipeline) operationalFlow(ctx context.Context, alert *models.Alert) error {
	correlationID := alert.AlertID

	triageResp, err := p.callTriage(ctx, correlationID, models.IncidentTypeOperational, []string{alert.AlertID})
	if err != nil {
		return fmt.Errorf("triage failed for alert %s: %w", alert.AlertID, err)
	}
	if triageResp.PriorityScore < p.suppressThreshold {
		return nil
	}

	inc, err := p.createIncident(ctx, alert, models.IncidentTypeOperational, triageResp)
	if err != nil {
		return fmt.Errorf("create incident for alert %s: %w", alert.AlertID, err)
	}
	defer p.startHeartbeat(ctx, inc.IncidentID)()

	inc, err = p.transition(ctx, inc, models.StatusTriaged)
	if err != nil {
		return err
	}
	inc, err = p.transition(ctx, inc, models.StatusInvestigating)
	if err != nil {
		return err
	}

	var summary string
	if changeCorrelationConfidence(alert) == "high" {
		resp, err := p.callInvestigate(ctx, inc, "")
		if err != nil {
			p.escalate(ctx, inc, "investigation_failed")
			return err
		}
		summary = resp.Summary
		inc.AffectedServices = resp.AffectedAssets
	} else {
		summary = fmt.Sprintf("Anomaly report for %s (no high-confidence change correlation available)", alert.RuleID)
		inc.InvestigationSummary = summary
	}

	return p.planAndExecute(ctx, inc, summary)
}

// planAndExecute is the shared tail of both flows from "planning" onward:
// plan, gate on approval if any action requires it, execute, verify.
func (p *DelegationPipeline) planAndExecute(ctx context.Context, inc *models.Incident, summary string) error {
	inc, err := p.transition(ctx, inc, models.StatusPlanning)
	if err != nil {
		return err
	}

	planResp, err := p.callPlan(ctx, inc, summary)
	if err != nil {
		p.escalate(ctx, inc, "planning_failed")
		return err
	}

	if planRequiresApproval(planResp.Actions) {
		inc, err = p.transition(ctx, inc, models.StatusAwaitingApproval)
		if err != nil {
			return err
		}
		if p.notifier != nil {
			p.notifier.NotifyApprovalRequested(ctx, inc, planResp.Actions)
		}
		outcome, err := p.waitForApproval(ctx, inc)
		if err != nil {
			p.escalate(ctx, inc, "approval_poll_failed")
			return err
		}
		switch outcome {
		case executor.ApprovalOutcomeRejected:
			p.escalate(ctx, inc, "approval_rejected")
			return nil
		case executor.ApprovalOutcomeTimeout:
			p.escalate(ctx, inc, "approval_timeout")
			return nil
		}
	}

	inc, err = p.transition(ctx, inc, models.StatusExecuting)
	if err != nil {
		return err
	}

	execResp, err := p.callExecute(ctx, inc, planResp.Actions)
	if err != nil {
		p.escalate(ctx, inc, "execution_failed")
		return err
	}
	inc.RemediationPlan = summarizeActions(planResp.Actions)

	inc, err = p.transition(ctx, inc, models.StatusVerifying)
	if err != nil {
		return err
	}

	verifyResp, err := p.callVerify(ctx, inc)
	if err != nil {
		p.escalate(ctx, inc, "verification_failed")
		return err
	}

	return p.resolveOrReflect(ctx, inc, verifyResp, execResp)
}

// resolveOrReflect evaluates the verifying outcome: a pass moves the
// incident to resolved, a failure hands off to the reflection loop.
func (p *DelegationPipeline) resolveOrReflect(ctx context.Context, inc *models.Incident, verifyResp *contract.VerifyResponse, execResp *contract.ExecuteResponse) error {
	if verifyResp.Passed {
		return p.resolve(ctx, inc, verifyResp)
	}
	return p.handleReflectionLoop(ctx, inc, verifyResp.FailureAnalysis)
}

func (p *DelegationPipeline) resolve(ctx context.Context, inc *models.Incident, verifyResp *contract.VerifyResponse) error {
	inc, err := p.transition(ctx, inc, models.StatusResolved)
	if err != nil {
		return err
	}
	now := p.now()
	inc.ResolvedAt = &now
	inc.ResolutionType = "verified"
	if _, err := p.incidents.Update(ctx, inc); err != nil {
		log.Warn("failed to persist resolution metadata", "incident_id", inc.IncidentID, "error", err)
	}
	log.Info("incident resolved", "incident_id", inc.IncidentID, "health_score", verifyResp.HealthScore)
	p.scheduleTelemetryCleanup(inc.IncidentID)
	if p.reporter != nil {
		p.reporter.TriggerIncidentReport(context.Background(), inc)
	}
	return nil
}

func (p *DelegationPipeline) transition(ctx context.Context, inc *models.Incident, to models.Status) (*models.Incident, error) {
	updated, err := p.machine.Transition(ctx, inc, to)
	if err != nil {
		return nil, fmt.Errorf("transition incident %s to %s: %w", inc.IncidentID, to, err)
	}
	return updated, nil
}
