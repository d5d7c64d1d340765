package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arome3/vigil/pkg/models"
)

const IndexActions = "actions"

// ActionStore adapts the generic document Client to models.ActionRecord.
type ActionStore struct {
	client *Client
}

func NewActionStore(client *Client) *ActionStore {
	return &ActionStore{client: client}
}

func (s *ActionStore) Create(ctx context.Context, action *models.ActionRecord) (*models.ActionRecord, error) {
	doc, err := s.client.Index(ctx, IndexActions, action.ActionID, action)
	if err != nil {
		return nil, err
	}
	action.SeqNo, action.PrimaryTerm = doc.SeqNo, doc.PrimaryTerm
	return action, nil
}

func (s *ActionStore) Update(ctx context.Context, action *models.ActionRecord) (*models.ActionRecord, error) {
	doc, err := s.client.Update(ctx, IndexActions, action.ActionID, action, action.SeqNo, action.PrimaryTerm)
	if err != nil {
		return nil, err
	}
	action.SeqNo, action.PrimaryTerm = doc.SeqNo, doc.PrimaryTerm
	return action, nil
}

// ByIncident returns all action records for one incident, used by the
// executor's idempotency check and the reporting pipeline.
func (s *ActionStore) ByIncident(ctx context.Context, incidentID string) ([]*models.ActionRecord, error) {
	docs, err := s.client.Search(ctx, IndexActions, Query{
		Filters: map[string]any{"incident_id": incidentID},
		SortBy:  "started_at",
		SortDir: SortAsc,
		Limit:   1000,
	})
	if err != nil {
		return nil, err
	}

	out := make([]*models.ActionRecord, 0, len(docs))
	for _, doc := range docs {
		action, err := decodeAction(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, action)
	}
	return out, nil
}

func decodeAction(doc *Document) (*models.ActionRecord, error) {
	var action models.ActionRecord
	if err := json.Unmarshal(doc.Body, &action); err != nil {
		return nil, fmt.Errorf("decode action %s: %w", doc.ID, err)
	}
	action.SeqNo, action.PrimaryTerm = doc.SeqNo, doc.PrimaryTerm
	return &action, nil
}
