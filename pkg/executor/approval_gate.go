package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/storage"
)

const (
	approvalPollInterval   = 5 * time.Second
	maxConsecutivePollErrs = 3
)

// ApprovalResponseStore is the narrow storage surface the gate needs: a
// search over the approval-response index filtered by (incident_id,
// action_id), newest first.
type ApprovalResponseStore interface {
	LatestResponse(ctx context.Context, incidentID, actionID string) (*storage.Document, error)
}

// PollingApprovalGate implements ApprovalGate by dispatching a
// request_approval envelope once, then polling the approval-response index
// on a short interval until a decisive value arrives or timeoutMinutes
// elapses.
type PollingApprovalGate struct {
	responses  ApprovalResponseStore
	dispatcher Dispatcher
	interval   time.Duration
}

func NewPollingApprovalGate(responses ApprovalResponseStore, dispatcher Dispatcher) *PollingApprovalGate {
	return &PollingApprovalGate{responses: responses, dispatcher: dispatcher, interval: approvalPollInterval}
}

// approvalResponseBody is the shape of one approval-response document.
type approvalResponseBody struct {
	Value string `json:"value"`
}

// Await polls until a decisive response arrives or timeout elapses.
// "approve"/"approved" and "reject"/"rejected" are decisive; "more_info"
// and a missing document both continue polling. Three consecutive
// transient poll failures abort with an error; a successful poll (found or
// not) resets that counter.
func (g *PollingApprovalGate) Await(ctx context.Context, incidentID, actionID string, action models.PlanAction, timeout time.Duration) (ApprovalOutcome, error) {
	deadline := time.Now().Add(timeout)
	consecutiveFailures := 0

	if err := g.dispatcher.Dispatch(ctx, incidentID, models.PlanAction{
		ActionType:   "request_approval",
		TargetSystem: action.TargetSystem,
		TargetAsset:  action.TargetAsset,
		Description:  fmt.Sprintf("Approval requested for action %s: %s", actionID, action.Description),
	}); err != nil {
		log.Warn("request_approval dispatch failed, polling anyway", "incident_id", incidentID, "action_id", actionID, "error", err)
	}

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return ApprovalOutcomeTimeout, nil
		}

		doc, err := g.responses.LatestResponse(ctx, incidentID, actionID)
		if err != nil {
			consecutiveFailures++
			if consecutiveFailures >= maxConsecutivePollErrs {
				return "", fmt.Errorf("approval poll failed %d times consecutively: %w", consecutiveFailures, err)
			}
		} else {
			consecutiveFailures = 0
			if outcome, decisive := decide(doc); decisive {
				return outcome, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func decide(doc *storage.Document) (ApprovalOutcome, bool) {
	if doc == nil {
		return "", false
	}
	var body approvalResponseBody
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		return "", false
	}
	switch body.Value {
	case "approve", "approved":
		return ApprovalOutcomeApproved, true
	case "reject", "rejected":
		return ApprovalOutcomeRejected, true
	default: // "more_info" or anything else: keep polling
		return "", false
	}
}
