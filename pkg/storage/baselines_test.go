package storage

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/arome3/vigil/pkg/models"
)

func TestBaselineStore_Baseline_DecodesDocument(t *testing.T) {
	client, mock := newMockClient(t)
	store := NewBaselineStore(client)

	rows := sqlmock.NewRows([]string{"doc_id", "body", "seq_no", "primary_term"}).
		AddRow("checkout", []byte(`{"service_name":"checkout","metric_name":"error_rate","avg_value":0.02,"stddev_value":0.005}`), int64(1), int64(1))
	mock.ExpectQuery("SELECT doc_id, body, seq_no, primary_term FROM documents WHERE index_name = .*").
		WillReturnRows(rows)

	baseline, err := store.Baseline(context.Background(), "checkout")
	require.NoError(t, err)
	require.Equal(t, "checkout", baseline.ServiceName)
	require.Equal(t, 0.02, baseline.AvgValue)
}

func TestBaselineStore_Put_CreatesWhenAbsent(t *testing.T) {
	client, mock := newMockClient(t)
	store := NewBaselineStore(client)

	mock.ExpectQuery("SELECT doc_id, body, seq_no, primary_term FROM documents WHERE index_name = .*").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Put(context.Background(), &models.Baseline{ServiceName: "checkout", AvgValue: 0.02})
	require.NoError(t, err)
}
