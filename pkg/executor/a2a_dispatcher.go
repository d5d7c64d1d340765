package executor

import (
	"context"
	"time"

	"github.com/arome3/vigil/pkg/a2a"
	"github.com/arome3/vigil/pkg/idgen"
	"github.com/arome3/vigil/pkg/models"
)

const workflowAgent = "workflows"

// A2ADispatcher sends one remediation action to the workflows agent over
// A2A, the same agent the coordinator's whole-plan approval request
// targets.
type A2ADispatcher struct {
	client *a2a.Client
}

func NewA2ADispatcher(client *a2a.Client) *A2ADispatcher {
	return &A2ADispatcher{client: client}
}

// Dispatch satisfies Dispatcher.
func (d *A2ADispatcher) Dispatch(ctx context.Context, incidentID string, action models.PlanAction) error {
	envelope := &models.Envelope{
		MessageID:     idgen.NewMessageID(),
		FromAgent:     "coordinator",
		ToAgent:       workflowAgent,
		Timestamp:     time.Now().UTC(),
		CorrelationID: incidentID,
		Payload: map[string]any{
			"task":          "execute_action",
			"incident_id":   incidentID,
			"action_type":   action.ActionType,
			"target_system": action.TargetSystem,
			"target_asset":  action.TargetAsset,
			"description":   action.Description,
		},
	}
	_, err := d.client.Send(ctx, workflowAgent, envelope, nil)
	return err
}
