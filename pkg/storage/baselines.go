package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arome3/vigil/pkg/models"
)

const IndexBaselines = "service-baselines"

// BaselineStore looks up the statistical baseline document for one service,
// keyed by service name. Its Baseline method satisfies verifier.BaselineSource
// directly, with no adapter needed.
type BaselineStore struct {
	client *Client
}

func NewBaselineStore(client *Client) *BaselineStore {
	return &BaselineStore{client: client}
}

// Baseline returns the stored baseline for serviceName.
func (s *BaselineStore) Baseline(ctx context.Context, serviceName string) (*models.Baseline, error) {
	doc, err := s.client.Get(ctx, IndexBaselines, serviceName)
	if err != nil {
		return nil, err
	}
	var baseline models.Baseline
	if err := json.Unmarshal(doc.Body, &baseline); err != nil {
		return nil, fmt.Errorf("decode baseline %s: %w", serviceName, err)
	}
	return &baseline, nil
}

// Put upserts the baseline document for a service, used by the periodic
// baseline-refresh job rather than the request path.
func (s *BaselineStore) Put(ctx context.Context, baseline *models.Baseline) error {
	existing, err := s.client.Get(ctx, IndexBaselines, baseline.ServiceName)
	if err != nil {
		_, err := s.client.Index(ctx, IndexBaselines, baseline.ServiceName, baseline)
		return err
	}
	_, err = s.client.Update(ctx, IndexBaselines, baseline.ServiceName, baseline, existing.SeqNo, existing.PrimaryTerm)
	return err
}
