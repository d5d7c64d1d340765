package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/arome3/vigil/pkg/vigilerr"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewClientFromDB(db), mock
}

func TestClient_Index_DuplicateMapsToConcurrencyConflict(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec("INSERT INTO documents").
		WillReturnError(errors.New("duplicate key value violates unique constraint \"documents_pkey\""))

	_, err := client.Index(context.Background(), IndexIncidents, "INC-2026-ABCDE", map[string]string{"status": "detected"})
	require.ErrorIs(t, err, vigilerr.ErrConcurrencyConflict)
}

func TestClient_Update_NoMatchingRowMapsToConcurrencyConflict(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery("UPDATE documents").
		WithArgs(sqlmock.AnyArg(), IndexIncidents, "INC-2026-ABCDE", int64(3), int64(1)).
		WillReturnError(sql.ErrNoRows)

	_, err := client.Update(context.Background(), IndexIncidents, "INC-2026-ABCDE", map[string]string{"status": "triaged"}, 3, 1)
	require.ErrorIs(t, err, vigilerr.ErrConcurrencyConflict)
}

func TestClient_Search_BuildsEqualityFilterAndSort(t *testing.T) {
	client, mock := newMockClient(t)

	rows := sqlmock.NewRows([]string{"doc_id", "body", "seq_no", "primary_term"}).
		AddRow("INC-2026-AAAAA", []byte(`{"status":"detected"}`), int64(0), int64(1))

	mock.ExpectQuery("SELECT doc_id, body, seq_no, primary_term FROM documents WHERE index_name = .*").
		WillReturnRows(rows)

	docs, err := client.Search(context.Background(), IndexIncidents, Query{
		Filters: map[string]any{"status": "detected"},
		SortBy:  "created_at",
		SortDir: SortDesc,
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "INC-2026-AAAAA", docs[0].ID)
}

func TestSanitizeField_StripsNonIdentifierCharacters(t *testing.T) {
	require.Equal(t, "statusfoo", sanitizeField("status'; DROP TABLE documents; --foo"))
}
