package verifier

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/toolexec"
)

type fakeLoader struct{ def *toolexec.ToolDefinition }

func (l *fakeLoader) Load(name string) (*toolexec.ToolDefinition, error) { return l.def, nil }

type sqlQuerier struct{ db *sql.DB }

func (q *sqlQuerier) RawQuery(ctx context.Context, query string, args ...any) (toolexec.Rows, error) {
	return q.db.QueryContext(ctx, query, args...)
}

func newHealthCheckExecutor(t *testing.T, db *sql.DB) *toolexec.Executor {
	t.Helper()
	loader := &fakeLoader{def: &toolexec.ToolDefinition{
		ID:    "health_check",
		Query: "SELECT observed_value, error_rate, throughput, baseline_verdict FROM health WHERE service_name = $1",
		Params: []toolexec.ParamSpec{
			{Name: "service_name", Type: toolexec.ParamKeyword, Required: true},
		},
	}}
	return toolexec.NewExecutor(loader, &sqlQuerier{db: db}, nil)
}

func TestToolexecHealthChecker_Check_ParsesRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"observed_value", "error_rate", "throughput", "baseline_verdict"}).
			AddRow(0.95, 0.01, 120.0, 1))

	checker := NewToolexecHealthChecker(newHealthCheckExecutor(t, db))

	m, err := checker.Check(context.Background(), "checkout", &models.Baseline{AvgValue: 1, StddevValue: 0.1})
	require.NoError(t, err)
	require.Equal(t, 0.95, m.ObservedValue)
	require.Equal(t, 0.01, m.ErrorRate)
	require.Equal(t, 120.0, m.Throughput)
	require.True(t, m.BaselineVerdict)
}

func TestToolexecHealthChecker_Check_NoRowsErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"observed_value", "error_rate", "throughput", "baseline_verdict"}))

	checker := NewToolexecHealthChecker(newHealthCheckExecutor(t, db))

	_, err = checker.Check(context.Background(), "checkout", nil)
	require.Error(t, err)
}
