// Package executor implements sequential, approval-gated, idempotent,
// audited action execution under a deadline race.
package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/arome3/vigil/pkg/contract"
	"github.com/arome3/vigil/pkg/idgen"
	"github.com/arome3/vigil/pkg/logging"
	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/storage"
)

var log = logging.Component("executor")

const DefaultDeadline = 50 * time.Second

// ApprovalOutcome is the approval gate's decision for one action.
type ApprovalOutcome string

const (
	ApprovalOutcomeApproved ApprovalOutcome = "approved"
	ApprovalOutcomeRejected ApprovalOutcome = "rejected"
	ApprovalOutcomeTimeout  ApprovalOutcome = "timeout"
)

// ApprovalGate dispatches a request_approval envelope and polls for the
// operator's decision.
type ApprovalGate interface {
	Await(ctx context.Context, incidentID, actionID string, action models.PlanAction, timeout time.Duration) (ApprovalOutcome, error)
}

// Dispatcher sends one action to the workflow agent implied by its
// target_system and reports success or failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, incidentID string, action models.PlanAction) error
}

// Executor runs a validated plan against Dispatcher and ApprovalGate,
// recording an audit trail via storage.ActionStore.
type Executor struct {
	actions      *storage.ActionStore
	dispatcher   Dispatcher
	approvalGate ApprovalGate
	now          func() time.Time
}

func New(actions *storage.ActionStore, dispatcher Dispatcher, approvalGate ApprovalGate) *Executor {
	return &Executor{
		actions:      actions,
		dispatcher:   dispatcher,
		approvalGate: approvalGate,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// HandleExecutePlan runs a remediation plan's actions in order under a
// single deadline. deadline defaults to DefaultDeadline when zero.
func (e *Executor) HandleExecutePlan(ctx context.Context, incidentID string, actions []models.PlanAction, deadline time.Duration) (*contract.ExecuteResponse, error) {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	prior, err := e.actions.ByIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("idempotency check for incident %s: %w", incidentID, err)
	}
	if len(prior) > 0 {
		log.Info("execute plan skipped: prior actions already recorded", "incident_id", incidentID, "prior_count", len(prior))
		return &contract.ExecuteResponse{Status: "completed", ActionsCompleted: 0, Results: nil}, nil
	}

	sorted := append([]models.PlanAction(nil), actions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	deadlineCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var results []string
	completed := 0
	stopped := false

	for i, action := range sorted {
		if stopped {
			e.recordSkipped(ctx, incidentID, action, "Execution deadline exceeded")
			results = append(results, fmt.Sprintf("%s: skipped", action.Description))
			continue
		}

		select {
		case <-deadlineCtx.Done():
			stopped = true
			for _, remaining := range sorted[i:] {
				e.recordSkipped(ctx, incidentID, remaining, "Execution deadline exceeded")
				results = append(results, fmt.Sprintf("%s: skipped", remaining.Description))
			}
			continue
		default:
		}

		status, halt := e.runOne(deadlineCtx, incidentID, action)
		results = append(results, fmt.Sprintf("%s: %s", action.Description, status))
		if status == models.ExecutionCompleted {
			completed++
		}
		if halt {
			stopped = true
		}
	}

	finalStat := finalStatus(completed, len(sorted))
	return &contract.ExecuteResponse{Status: finalStat, ActionsCompleted: completed, Results: results}, nil
}

// runOne executes a single action and returns its outcome plus whether
// execution should halt after this action (approval reject/timeout, or
// dispatch failure).
func (e *Executor) runOne(ctx context.Context, incidentID string, action models.PlanAction) (models.ExecutionStatus, bool) {
	record := &models.ActionRecord{
		ActionID:         idgen.NewActionID(e.now()),
		IncidentID:       incidentID,
		ActionType:       action.ActionType,
		TargetSystem:     action.TargetSystem,
		TargetAsset:      action.TargetAsset,
		ApprovalRequired: action.ApprovalRequired,
		StartedAt:        e.now(),
	}

	if action.ApprovalRequired {
		outcome, err := e.approvalGate.Await(ctx, incidentID, record.ActionID, action, 15*time.Minute)
		if err != nil || outcome != ApprovalOutcomeApproved {
			record.ApprovalStatus = models.ApprovalRejected
			record.ExecutionStatus = models.ExecutionSkipped
			record.ErrorMessage = fmt.Sprintf("approval %s", outcome)
			record.CompletedAt = e.now()
			e.audit(ctx, record)
			return models.ExecutionSkipped, true
		}
		record.ApprovalStatus = models.ApprovalApproved
	}

	err := e.dispatcher.Dispatch(ctx, incidentID, action)
	record.CompletedAt = e.now()
	record.DurationMs = record.CompletedAt.Sub(record.StartedAt).Milliseconds()

	if err != nil {
		record.ExecutionStatus = models.ExecutionFailed
		record.ErrorMessage = err.Error()
		e.audit(ctx, record)
		return models.ExecutionFailed, true
	}

	record.ExecutionStatus = models.ExecutionCompleted
	e.audit(ctx, record)
	return models.ExecutionCompleted, false
}

func (e *Executor) recordSkipped(ctx context.Context, incidentID string, action models.PlanAction, reason string) {
	record := &models.ActionRecord{
		ActionID:         idgen.NewActionID(e.now()),
		IncidentID:       incidentID,
		ActionType:       action.ActionType,
		TargetSystem:     action.TargetSystem,
		TargetAsset:      action.TargetAsset,
		ApprovalRequired: action.ApprovalRequired,
		ExecutionStatus:  models.ExecutionSkipped,
		ErrorMessage:     reason,
		StartedAt:        e.now(),
		CompletedAt:      e.now(),
	}
	e.audit(ctx, record)
}

// audit writes the action record fire-and-forget: a storage failure here
// must never fail the execution it's auditing.
func (e *Executor) audit(ctx context.Context, record *models.ActionRecord) {
	if _, err := e.actions.Create(ctx, record); err != nil {
		log.Warn("failed to write action audit record", "action_id", record.ActionID, "error", err)
	}
}

func finalStatus(completed, total int) string {
	switch {
	case total > 0 && completed == total:
		return "completed"
	case completed > 0:
		return "partial_failure"
	default:
		return "failed"
	}
}
