package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/vigilerr"
)

const IndexIncidents = "incidents"

// IncidentStore adapts the generic document Client to models.Incident.
type IncidentStore struct {
	client *Client
}

func NewIncidentStore(client *Client) *IncidentStore {
	return &IncidentStore{client: client}
}

func (s *IncidentStore) Get(ctx context.Context, id string) (*models.Incident, error) {
	doc, err := s.client.Get(ctx, IndexIncidents, id)
	if err != nil {
		return nil, err
	}
	return decodeIncident(doc)
}

func (s *IncidentStore) Create(ctx context.Context, inc *models.Incident) (*models.Incident, error) {
	doc, err := s.client.Index(ctx, IndexIncidents, inc.IncidentID, inc)
	if err != nil {
		return nil, err
	}
	inc.SeqNo, inc.PrimaryTerm = doc.SeqNo, doc.PrimaryTerm
	return inc, nil
}

// Update performs a CAS write using inc's current SeqNo/PrimaryTerm, then
// refreshes inc with the post-write tokens on success.
func (s *IncidentStore) Update(ctx context.Context, inc *models.Incident) (*models.Incident, error) {
	doc, err := s.client.Update(ctx, IndexIncidents, inc.IncidentID, inc, inc.SeqNo, inc.PrimaryTerm)
	if err != nil {
		return nil, err
	}
	inc.SeqNo, inc.PrimaryTerm = doc.SeqNo, doc.PrimaryTerm
	return inc, nil
}

// Active returns non-terminal incidents, most recently created first, for
// the reflection loop and reporting sweeps to poll.
func (s *IncidentStore) Active(ctx context.Context, limit int) ([]*models.Incident, error) {
	docs, err := s.client.Search(ctx, IndexIncidents, Query{
		SortBy:  "created_at",
		SortDir: SortDesc,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]*models.Incident, 0, len(docs))
	for _, doc := range docs {
		inc, err := decodeIncident(doc)
		if err != nil {
			return nil, err
		}
		if !inc.Status.IsTerminal() {
			out = append(out, inc)
		}
	}
	return out, nil
}

// ResolvedSince returns resolved incidents, most recently resolved first, up
// to limit -- used by the daily report sweep to find candidates for the
// batch digest without re-scanning every incident ever created.
func (s *IncidentStore) ResolvedSince(ctx context.Context, since time.Time, limit int) ([]*models.Incident, error) {
	docs, err := s.client.Search(ctx, IndexIncidents, Query{
		Filters: map[string]any{"status": string(models.StatusResolved)},
		SortBy:  "resolved_at",
		SortDir: SortDesc,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]*models.Incident, 0, len(docs))
	for _, doc := range docs {
		inc, err := decodeIncident(doc)
		if err != nil {
			return nil, err
		}
		if inc.ResolvedAt != nil && !inc.ResolvedAt.Before(since) {
			out = append(out, inc)
		}
	}
	return out, nil
}

// Touch stamps LastHeartbeatAt on the incident, re-reading and retrying on a
// concurrency conflict: a heartbeat is an advisory liveness marker racing
// against the same incident's own phase-transition writes, not a change
// that should ever be lost to a stale CAS token.
func (s *IncidentStore) Touch(ctx context.Context, id string) error {
	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		inc, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		inc.LastHeartbeatAt = &now
		if _, err := s.Update(ctx, inc); err != nil {
			if errors.Is(err, vigilerr.ErrConcurrencyConflict) {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("touch incident %s: exhausted %d retries on concurrency conflict", id, maxAttempts)
}

func decodeIncident(doc *Document) (*models.Incident, error) {
	var inc models.Incident
	if err := json.Unmarshal(doc.Body, &inc); err != nil {
		return nil, fmt.Errorf("decode incident %s: %w", doc.ID, err)
	}
	inc.SeqNo, inc.PrimaryTerm = doc.SeqNo, doc.PrimaryTerm
	return &inc, nil
}
