package storage

import (
	"context"
	"time"
)

const IndexApprovalResponses = "approval-responses"

// ApprovalResponseStore queries the approval-response index filtered by
// (incident_id, action_id), newest first, for the Executor's approval gate.
type ApprovalResponseStore struct {
	client *Client
}

func NewApprovalResponseStore(client *Client) *ApprovalResponseStore {
	return &ApprovalResponseStore{client: client}
}

// LatestResponse returns the most recent approval-response document for
// (incidentID, actionID), or nil if none exists yet.
func (s *ApprovalResponseStore) LatestResponse(ctx context.Context, incidentID, actionID string) (*Document, error) {
	docs, err := s.client.Search(ctx, IndexApprovalResponses, Query{
		Filters: map[string]any{"incident_id": incidentID, "action_id": actionID},
		SortBy:  "timestamp",
		SortDir: SortDesc,
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// ApprovalResponseDoc is the audit record written for every approval
// callback, keyed on a fresh id since redelivered Slack callbacks must not
// collide with a prior response on the same (incident_id, action_id).
type ApprovalResponseDoc struct {
	IncidentID string    `json:"incident_id"`
	ActionID   string    `json:"action_id,omitempty"`
	Value      string    `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
	Responder  string    `json:"responder,omitempty"`
}

// Record writes an approval-response audit document. actionID is empty for
// callbacks that only resolve a whole-plan gate (the Slack approval message
// carries no action-level action_id, only incident_id).
func (s *ApprovalResponseStore) Record(ctx context.Context, id string, doc ApprovalResponseDoc) error {
	_, err := s.client.Index(ctx, IndexApprovalResponses, id, doc)
	return err
}
