package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arome3/vigil/pkg/vigilerr"
)

// Document is one row of the generic document store: an index name, an id,
// a JSON body, and an optimistic concurrency pair modeled on
// Elasticsearch's _seq_no/_primary_term.
type Document struct {
	Index       string
	ID          string
	Body        json.RawMessage
	SeqNo       int64
	PrimaryTerm int64
}

// SortDir is the direction of a Search sort clause.
type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

// Query describes a Search call: equality filters on top-level JSON fields,
// an optional sort, and a result cap. It intentionally does not expose a
// full query DSL -- every caller in this codebase needs equality-and-sort,
// not arbitrary boolean queries.
type Query struct {
	Filters map[string]any
	SortBy  string
	SortDir SortDir
	Limit   int
}

// Get fetches one document by id. Returns sql.ErrNoRows if absent.
func (c *Client) Get(ctx context.Context, index, id string) (*Document, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT doc_id, body, seq_no, primary_term
		FROM documents
		WHERE index_name = $1 AND doc_id = $2
	`, index, id)

	var d Document
	d.Index = index
	if err := row.Scan(&d.ID, &d.Body, &d.SeqNo, &d.PrimaryTerm); err != nil {
		return nil, err
	}
	return &d, nil
}

// Index creates a new document with seq_no=0, primary_term=1, matching
// Elasticsearch's behavior for a first write. Returns vigilerr.ErrConcurrencyConflict
// if a document with the same id already exists.
func (c *Client) Index(ctx context.Context, index, id string, body any) (*Document, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal document body: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO documents (index_name, doc_id, body, seq_no, primary_term)
		VALUES ($1, $2, $3, 0, 1)
	`, index, id, raw)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, vigilerr.ErrConcurrencyConflict
		}
		return nil, fmt.Errorf("insert document: %w", err)
	}

	return &Document{Index: index, ID: id, Body: raw, SeqNo: 0, PrimaryTerm: 1}, nil
}

// Update performs a compare-and-swap write: it only applies if the stored
// document's (seq_no, primary_term) matches ifSeqNo/ifPrimaryTerm, then
// bumps seq_no by one. Returns vigilerr.ErrConcurrencyConflict on mismatch.
func (c *Client) Update(ctx context.Context, index, id string, body any, ifSeqNo, ifPrimaryTerm int64) (*Document, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal document body: %w", err)
	}

	row := c.db.QueryRowContext(ctx, `
		UPDATE documents
		SET body = $1, seq_no = seq_no + 1, updated_at = now()
		WHERE index_name = $2 AND doc_id = $3 AND seq_no = $4 AND primary_term = $5
		RETURNING seq_no, primary_term
	`, raw, index, id, ifSeqNo, ifPrimaryTerm)

	var d Document
	d.Index = index
	d.ID = id
	d.Body = raw
	if err := row.Scan(&d.SeqNo, &d.PrimaryTerm); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, vigilerr.ErrConcurrencyConflict
		}
		return nil, fmt.Errorf("update document: %w", err)
	}
	return &d, nil
}

// Search runs an equality-filtered, optionally sorted lookup over one index.
func (c *Client) Search(ctx context.Context, index string, q Query) ([]*Document, error) {
	var sb strings.Builder
	args := []any{index}
	sb.WriteString(`SELECT doc_id, body, seq_no, primary_term FROM documents WHERE index_name = $1`)

	for field, value := range q.Filters {
		args = append(args, fmt.Sprintf("%v", value))
		sb.WriteString(fmt.Sprintf(" AND body ->> '%s' = $%d", sanitizeField(field), len(args)))
	}

	if q.SortBy != "" {
		dir := q.SortDir
		if dir == "" {
			dir = SortAsc
		}
		sb.WriteString(fmt.Sprintf(" ORDER BY body ->> '%s' %s", sanitizeField(q.SortBy), strings.ToUpper(string(dir))))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))

	rows, err := c.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d := &Document{Index: index}
		if err := rows.Scan(&d.ID, &d.Body, &d.SeqNo, &d.PrimaryTerm); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteByFilter removes every document in index matching all of filters
// (equality on top-level JSON fields, same semantics as Search's Filters),
// returning the count of rows removed.
func (c *Client) DeleteByFilter(ctx context.Context, index string, filters map[string]any) (int64, error) {
	var sb strings.Builder
	args := []any{index}
	sb.WriteString(`DELETE FROM documents WHERE index_name = $1`)

	for field, value := range filters {
		args = append(args, fmt.Sprintf("%v", value))
		sb.WriteString(fmt.Sprintf(" AND body ->> '%s' = $%d", sanitizeField(field), len(args)))
	}

	result, err := c.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	return result.RowsAffected()
}

// RawQuery executes an arbitrary parameterized query against the store. It
// is the store's equivalent of Elasticsearch's low-level transport.Request
// escape hatch, used by the tool executor for queries Query can't express
// (aggregations, time-bucketed counts).
func (c *Client) RawQuery(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// sanitizeField restricts JSON field names used in hand-built SQL to a safe
// identifier charset, since they can't be parameterized as column references.
func sanitizeField(field string) string {
	var sb strings.Builder
	for _, r := range field {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

// nowUTC is the storage package's single time source, isolated so tests can
// substitute it if a component ever needs injectable time.
var nowUTC = func() time.Time { return time.Now().UTC() }
