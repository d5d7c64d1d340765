package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/storage"
)

type fakeDispatcher struct {
	failOn map[string]bool
	calls  []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, incidentID string, action models.PlanAction) error {
	f.calls = append(f.calls, action.Description)
	if f.failOn[action.Description] {
		return errors.New("dispatch failed")
	}
	return nil
}

type fakeApprovalGate struct {
	outcome ApprovalOutcome
}

func (f *fakeApprovalGate) Await(ctx context.Context, incidentID, actionID string, action models.PlanAction, timeout time.Duration) (ApprovalOutcome, error) {
	return f.outcome, nil
}

func newExecutorWithMockDB(t *testing.T) (*Executor, sqlmock.Sqlmock, *fakeDispatcher) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	client := storage.NewClientFromDB(db)
	actions := storage.NewActionStore(client)
	dispatcher := &fakeDispatcher{failOn: map[string]bool{}}
	gate := &fakeApprovalGate{outcome: ApprovalOutcomeApproved}

	return New(actions, dispatcher, gate), mock, dispatcher
}

func TestHandleExecutePlan_IdempotencyGuardSkipsReExecution(t *testing.T) {
	exec, mock, dispatcher := newExecutorWithMockDB(t)

	rows := sqlmock.NewRows([]string{"doc_id", "body", "seq_no", "primary_term"}).
		AddRow("ACT-2026-AAAAA", []byte(`{"action_id":"ACT-2026-AAAAA","incident_id":"INC-2026-AAAAA"}`), int64(0), int64(1))
	mock.ExpectQuery("SELECT doc_id, body, seq_no, primary_term FROM documents WHERE index_name = .*").WillReturnRows(rows)

	resp, err := exec.HandleExecutePlan(context.Background(), "INC-2026-AAAAA", []models.PlanAction{
		{Order: 1, Description: "block ip", TargetSystem: "firewall"},
	}, 0)

	require.NoError(t, err)
	require.Equal(t, 0, resp.ActionsCompleted)
	require.Empty(t, resp.Results)
	require.Empty(t, dispatcher.calls)
}

func TestHandleExecutePlan_StopsOnFirstFailure(t *testing.T) {
	exec, mock, dispatcher := newExecutorWithMockDB(t)
	dispatcher.failOn["block ip"] = true

	mock.ExpectQuery("SELECT doc_id, body, seq_no, primary_term FROM documents WHERE index_name = .*").
		WillReturnRows(sqlmock.NewRows([]string{"doc_id", "body", "seq_no", "primary_term"}))
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))

	resp, err := exec.HandleExecutePlan(context.Background(), "INC-2026-AAAAA", []models.PlanAction{
		{Order: 1, Description: "block ip", TargetSystem: "firewall"},
		{Order: 2, Description: "notify team", TargetSystem: "slack"},
	}, 0)

	require.NoError(t, err)
	require.Equal(t, "failed", resp.Status)
	require.Equal(t, 0, resp.ActionsCompleted)
	require.Equal(t, []string{"block ip"}, dispatcher.calls)
}

func TestHandleExecutePlan_SortsActionsByOrder(t *testing.T) {
	exec, mock, dispatcher := newExecutorWithMockDB(t)

	mock.ExpectQuery("SELECT doc_id, body, seq_no, primary_term FROM documents WHERE index_name = .*").
		WillReturnRows(sqlmock.NewRows([]string{"doc_id", "body", "seq_no", "primary_term"}))
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := exec.HandleExecutePlan(context.Background(), "INC-2026-AAAAA", []models.PlanAction{
		{Order: 2, Description: "second", TargetSystem: "slack"},
		{Order: 1, Description: "first", TargetSystem: "firewall"},
	}, 0)

	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, dispatcher.calls)
}

func TestApprovalGate_DecidesOnApprove(t *testing.T) {
	outcome, decisive := decide(&storage.Document{Body: []byte(`{"value":"approve"}`)})
	require.True(t, decisive)
	require.Equal(t, ApprovalOutcomeApproved, outcome)
}

func TestApprovalGate_MoreInfoContinuesPolling(t *testing.T) {
	_, decisive := decide(&storage.Document{Body: []byte(`{"value":"more_info"}`)})
	require.False(t, decisive)
}

func TestApprovalGate_NoDocumentContinuesPolling(t *testing.T) {
	_, decisive := decide(nil)
	require.False(t, decisive)
}
