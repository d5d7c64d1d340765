package coordinator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/arome3/vigil/pkg/contract"
	"github.com/arome3/vigil/pkg/executor"
	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/statemachine"
	"github.com/arome3/vigil/pkg/storage"
	"github.com/arome3/vigil/pkg/verifier"
)

type fakeHealthCheckerFail struct{}

func (fakeHealthCheckerFail) Check(ctx context.Context, serviceName string, baseline *models.Baseline) (verifier.ServiceMetrics, error) {
	return verifier.ServiceMetrics{ObservedValue: 1.0, BaselineVerdict: false}, nil
}

func newReflectingPipeline(t *testing.T, delegator Delegator, healthChecker verifier.HealthChecker, maxReflections int) (*DelegationPipeline, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	client := storage.NewClientFromDB(db)
	incidents := storage.NewIncidentStore(client)
	actions := storage.NewActionStore(client)
	machine := statemachine.New(incidents, maxReflections)

	exec := executor.New(actions, fakeDispatcherOK{}, fakeApprovalGateApprove{})
	verify := verifier.New(fakeBaselineSourceEmpty{}, healthChecker, -1, 5*time.Second, 0.8)

	p := NewDelegationPipeline(incidents, machine, delegator, exec, verify, &noopNotifier{}, 0.3, maxReflections, time.Minute, time.Hour)
	return p, mock
}

func baseIncident() *models.Incident {
	return &models.Incident{
		IncidentID:       "INC-2026-AAAAA",
		Status:           models.StatusVerifying,
		AlertIDs:         []string{"ALT-1"},
		AffectedServices: []string{"checkout"},
		StateTimestamps:  map[models.Status]time.Time{models.StatusVerifying: time.Now().UTC()},
	}
}

// TestHandleReflectionLoop_EscalatesImmediatelyAtLimit covers maxReflections=1:
// the very first increment brings reflection_count to 1, which already meets
// the limit, so the loop must escalate before ever calling the investigator.
func TestHandleReflectionLoop_EscalatesImmediatelyAtLimit(t *testing.T) {
	delegator := &scriptedDelegator{responses: map[string][]json.RawMessage{}}
	p, mock := newReflectingPipeline(t, delegator, fakeHealthCheckerFail{}, 1)

	// transition to reflecting, then the escalated transition + reason update.
	anyUpdateReturning(mock, 1)
	anyUpdateReturning(mock, 2)
	anyUpdateReturning(mock, 3)
	mock.ExpectQuery("SELECT doc_id, body, seq_no, primary_term FROM documents WHERE index_name = \\$1 AND doc_id = \\$2").
		WillReturnRows(sqlmock.NewRows([]string{"doc_id", "body", "seq_no", "primary_term"}).
			AddRow("INC-2026-AAAAA", []byte(`{"incident_id":"INC-2026-AAAAA","status":"reflecting","reflection_count":1}`), int64(1), int64(1)))

	inc := baseIncident()
	err := p.handleReflectionLoop(context.Background(), inc, "health check failed")
	require.NoError(t, err)
	require.Empty(t, delegator.calls)
}

func TestHandleReflectionLoop_OneRoundThenEscalatesAtLimitTwo(t *testing.T) {
	delegator := &scriptedDelegator{responses: map[string][]json.RawMessage{
		"investigator": {mustJSON(contract.InvestigateResponse{Summary: "retry", AffectedAssets: []string{"checkout"}, RecommendedNext: "plan_remediation"})},
		"commander":    {mustJSON(contract.PlanResponse{Actions: []models.PlanAction{{Order: 1, Description: "retry fix", TargetSystem: "k8s"}}})},
	}}
	p, mock := newReflectingPipeline(t, delegator, fakeHealthCheckerFail{}, 2)

	// Round 1: reflecting, investigating, planning, executing, verifying (5
	// updates). Round 2: reflecting, then escalated + reason update (3 more).
	for i := 0; i < 8; i++ {
		anyUpdateReturning(mock, int64(i+1))
	}
	mock.ExpectQuery("SELECT doc_id, body, seq_no, primary_term FROM documents WHERE index_name = .*").
		WillReturnRows(sqlmock.NewRows([]string{"doc_id", "body", "seq_no", "primary_term"}))
	anyInsert(mock)
	mock.ExpectQuery("SELECT doc_id, body, seq_no, primary_term FROM documents WHERE index_name = \\$1 AND doc_id = \\$2").
		WillReturnRows(sqlmock.NewRows([]string{"doc_id", "body", "seq_no", "primary_term"}).
			AddRow("INC-2026-AAAAA", []byte(`{"incident_id":"INC-2026-AAAAA","status":"reflecting","reflection_count":2}`), int64(5), int64(1)))

	inc := baseIncident()
	err := p.handleReflectionLoop(context.Background(), inc, "health check failed")
	require.NoError(t, err)
	require.Equal(t, []string{"investigator", "commander"}, delegator.calls)
}
