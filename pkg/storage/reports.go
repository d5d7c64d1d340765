package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arome3/vigil/pkg/models"
)

const IndexReportStatus = "report-status"

// ReportStatusStore adapts the generic document Client to models.ReportStatus.
type ReportStatusStore struct {
	client *Client
}

func NewReportStatusStore(client *Client) *ReportStatusStore {
	return &ReportStatusStore{client: client}
}

func (s *ReportStatusStore) Create(ctx context.Context, status *models.ReportStatus) (*models.ReportStatus, error) {
	doc, err := s.client.Index(ctx, IndexReportStatus, status.ReportID, status)
	if err != nil {
		return nil, err
	}
	status.SeqNo, status.PrimaryTerm = doc.SeqNo, doc.PrimaryTerm
	return status, nil
}

func (s *ReportStatusStore) Update(ctx context.Context, status *models.ReportStatus) (*models.ReportStatus, error) {
	doc, err := s.client.Update(ctx, IndexReportStatus, status.ReportID, status, status.SeqNo, status.PrimaryTerm)
	if err != nil {
		return nil, err
	}
	status.SeqNo, status.PrimaryTerm = doc.SeqNo, doc.PrimaryTerm
	return status, nil
}

func (s *ReportStatusStore) Get(ctx context.Context, reportID string) (*models.ReportStatus, error) {
	doc, err := s.client.Get(ctx, IndexReportStatus, reportID)
	if err != nil {
		return nil, err
	}
	return decodeReportStatus(doc)
}

func decodeReportStatus(doc *Document) (*models.ReportStatus, error) {
	var status models.ReportStatus
	if err := json.Unmarshal(doc.Body, &status); err != nil {
		return nil, fmt.Errorf("decode report status %s: %w", doc.ID, err)
	}
	status.SeqNo, status.PrimaryTerm = doc.SeqNo, doc.PrimaryTerm
	return &status, nil
}
