package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arome3/vigil/pkg/models"
)

const IndexAlerts = "alerts"

// AlertStore adapts the generic document Client to models.Alert, and adds
// the claim-next-unprocessed-alert transaction the alert watcher pool needs.
type AlertStore struct {
	client *Client
}

func NewAlertStore(client *Client) *AlertStore {
	return &AlertStore{client: client}
}

func (s *AlertStore) Create(ctx context.Context, alert *models.Alert) (*models.Alert, error) {
	doc, err := s.client.Index(ctx, IndexAlerts, alert.AlertID, alert)
	if err != nil {
		return nil, err
	}
	alert.SeqNo, alert.PrimaryTerm = doc.SeqNo, doc.PrimaryTerm
	return alert, nil
}

func (s *AlertStore) Get(ctx context.Context, id string) (*models.Alert, error) {
	doc, err := s.client.Get(ctx, IndexAlerts, id)
	if err != nil {
		return nil, err
	}
	return decodeAlert(doc)
}

// ClaimNext atomically selects and marks one unprocessed alert as claimed,
// using FOR UPDATE SKIP LOCKED so concurrent watcher workers never claim the
// same row twice and never block waiting on each other's row locks.
func (s *AlertStore) ClaimNext(ctx context.Context) (*models.Alert, error) {
	tx, err := s.client.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `
		SELECT doc_id, body, seq_no, primary_term
		FROM documents
		WHERE index_name = $1 AND body ->> 'processed_at' IS NULL
			AND body ->> '_processing_started_at' IS NULL
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, IndexAlerts)

	var doc Document
	doc.Index = IndexAlerts
	if err := row.Scan(&doc.ID, &doc.Body, &doc.SeqNo, &doc.PrimaryTerm); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan claimable alert: %w", err)
	}

	alert, err := decodeAlert(&doc)
	if err != nil {
		return nil, err
	}

	now := nowUTC()
	alert.ProcessingStartedAt = &now

	raw, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("marshal claimed alert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET body = $1, seq_no = seq_no + 1, updated_at = now()
		WHERE index_name = $2 AND doc_id = $3 AND seq_no = $4 AND primary_term = $5
	`, raw, IndexAlerts, alert.AlertID, doc.SeqNo, doc.PrimaryTerm); err != nil {
		return nil, fmt.Errorf("mark alert claimed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim transaction: %w", err)
	}

	alert.SeqNo, alert.PrimaryTerm = doc.SeqNo+1, doc.PrimaryTerm
	return alert, nil
}

// MarkProcessed stamps processed_at via CAS on alert's current tokens.
func (s *AlertStore) MarkProcessed(ctx context.Context, alert *models.Alert, at time.Time) error {
	alert.ProcessedAt = &at
	doc, err := s.client.Update(ctx, IndexAlerts, alert.AlertID, alert, alert.SeqNo, alert.PrimaryTerm)
	if err != nil {
		return err
	}
	alert.SeqNo, alert.PrimaryTerm = doc.SeqNo, doc.PrimaryTerm
	return nil
}

func decodeAlert(doc *Document) (*models.Alert, error) {
	var alert models.Alert
	if err := json.Unmarshal(doc.Body, &alert); err != nil {
		return nil, fmt.Errorf("decode alert %s: %w", doc.ID, err)
	}
	alert.SeqNo, alert.PrimaryTerm = doc.SeqNo, doc.PrimaryTerm
	return &alert, nil
}
