package storage

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestTelemetrySinkAdapter_Index_WritesDocument(t *testing.T) {
	client, mock := newMockClient(t)
	adapter := NewTelemetrySinkAdapter(client)

	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := adapter.Index(context.Background(), "agent-telemetry", "msg-1", map[string]any{"status": "success"})
	require.NoError(t, err)
}
