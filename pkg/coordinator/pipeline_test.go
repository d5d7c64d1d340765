package coordinator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/arome3/vigil/pkg/a2a"
	"github.com/arome3/vigil/pkg/contract"
	"github.com/arome3/vigil/pkg/executor"
	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/statemachine"
	"github.com/arome3/vigil/pkg/storage"
	"github.com/arome3/vigil/pkg/verifier"
)

// scriptedDelegator returns a canned JSON response per agentID in call
// order, recording every envelope it receives for assertions.
type scriptedDelegator struct {
	responses map[string][]json.RawMessage
	calls     []string
	failOn    map[string]bool
}

func (d *scriptedDelegator) Send(ctx context.Context, agentID string, envelope *models.Envelope, opts *a2a.SendOptions) (json.RawMessage, error) {
	d.calls = append(d.calls, agentID)
	if d.failOn[agentID] {
		return nil, &testSendErr{agentID}
	}
	queue := d.responses[agentID]
	if len(queue) == 0 {
		return nil, &testSendErr{agentID}
	}
	d.responses[agentID] = queue[1:]
	return queue[0], nil
}

type testSendErr struct{ agentID string }

func (e *testSendErr) Error() string { return "no scripted response for " + e.agentID }

type noopNotifier struct {
	escalations []string
}

func (n *noopNotifier) NotifyEscalation(ctx context.Context, incident *models.Incident, reason string) {
	n.escalations = append(n.escalations, reason)
}
func (n *noopNotifier) NotifyApprovalRequested(ctx context.Context, incident *models.Incident, actions []models.PlanAction) {
}

type fakeDispatcherOK struct{}

func (fakeDispatcherOK) Dispatch(ctx context.Context, incidentID string, action models.PlanAction) error {
	return nil
}

type fakeApprovalGateApprove struct{}

func (fakeApprovalGateApprove) Await(ctx context.Context, incidentID, actionID string, action models.PlanAction, timeout time.Duration) (executor.ApprovalOutcome, error) {
	return executor.ApprovalOutcomeApproved, nil
}

type fakeHealthCheckerPass struct{}

func (fakeHealthCheckerPass) Check(ctx context.Context, serviceName string, baseline *models.Baseline) (verifier.ServiceMetrics, error) {
	return verifier.ServiceMetrics{ObservedValue: 0.01, BaselineVerdict: true}, nil
}

type fakeBaselineSourceEmpty struct{}

func (fakeBaselineSourceEmpty) Baseline(ctx context.Context, serviceName string) (*models.Baseline, error) {
	return &models.Baseline{ServiceName: serviceName}, nil
}

func newTestPipeline(t *testing.T, delegator Delegator, notifier *noopNotifier) (*DelegationPipeline, sqlmock.Sqlmock, *storage.IncidentStore) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	client := storage.NewClientFromDB(db)
	incidents := storage.NewIncidentStore(client)
	actions := storage.NewActionStore(client)
	machine := statemachine.New(incidents, 3)

	exec := executor.New(actions, fakeDispatcherOK{}, fakeApprovalGateApprove{})
	verify := verifier.New(fakeBaselineSourceEmpty{}, fakeHealthCheckerPass{}, -1, 5*time.Second, 0.8)

	p := NewDelegationPipeline(incidents, machine, delegator, exec, verify, notifier, 0.3, 3, time.Minute, time.Hour)
	return p, mock, incidents
}

func anyInsert(mock sqlmock.Sqlmock) {
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))
}

func anyUpdateReturning(mock sqlmock.Sqlmock, seq int64) {
	mock.ExpectQuery("UPDATE documents").WillReturnRows(
		sqlmock.NewRows([]string{"seq_no", "primary_term"}).AddRow(seq, int64(1)))
}

func TestSecurityFlow_SuppressesBelowThreshold(t *testing.T) {
	delegator := &scriptedDelegator{responses: map[string][]json.RawMessage{
		"triage": {mustJSON(contract.TriageResponse{PriorityScore: 0.1, Disposition: "suppress"})},
	}}
	p, _, _ := newTestPipeline(t, delegator, &noopNotifier{})

	err := p.securityFlow(context.Background(), &models.Alert{AlertID: "ALT-1", RuleID: "rule-x"})
	require.NoError(t, err)
	require.Equal(t, []string{"triage"}, delegator.calls)
}

func TestSecurityFlow_ReturnsErrorOnTriageFailure(t *testing.T) {
	delegator := &scriptedDelegator{failOn: map[string]bool{"triage": true}}
	p, _, _ := newTestPipeline(t, delegator, &noopNotifier{})

	err := p.securityFlow(context.Background(), &models.Alert{AlertID: "ALT-1"})
	require.Error(t, err)
}

func TestSecurityFlow_FullHappyPathResolves(t *testing.T) {
	notifier := &noopNotifier{}
	delegator := &scriptedDelegator{responses: map[string][]json.RawMessage{
		"triage":       {mustJSON(contract.TriageResponse{PriorityScore: 0.9, Disposition: "investigate"})},
		"investigator": {mustJSON(contract.InvestigateResponse{Summary: "looks bad", AffectedAssets: []string{"checkout"}, RecommendedNext: "plan_remediation"})},
		"commander":    {mustJSON(contract.PlanResponse{Actions: []models.PlanAction{{Order: 1, Description: "block ip", TargetSystem: "firewall"}}})},
	}}
	p, mock, _ := newTestPipeline(t, delegator, notifier)

	anyInsert(mock) // create incident
	for i := 0; i < 7; i++ {
		anyUpdateReturning(mock, int64(i+1)) // each transition write, plus the resolved-metadata update
	}
	mock.ExpectQuery("SELECT doc_id, body, seq_no, primary_term FROM documents WHERE index_name = .*").
		WillReturnRows(sqlmock.NewRows([]string{"doc_id", "body", "seq_no", "primary_term"})) // executor idempotency check
	anyInsert(mock) // action audit record

	err := p.securityFlow(context.Background(), &models.Alert{AlertID: "ALT-1", RuleID: "rule-x", SeverityOriginal: "high"})
	require.NoError(t, err)
	require.Contains(t, delegator.calls, "triage")
	require.Contains(t, delegator.calls, "investigator")
	require.Contains(t, delegator.calls, "commander")
	require.Empty(t, notifier.escalations)
}

func TestOperationalFlow_LowConfidenceSkipsInvestigator(t *testing.T) {
	notifier := &noopNotifier{}
	delegator := &scriptedDelegator{responses: map[string][]json.RawMessage{
		"triage":    {mustJSON(contract.TriageResponse{PriorityScore: 0.9, Disposition: "investigate"})},
		"commander": {mustJSON(contract.PlanResponse{Actions: []models.PlanAction{{Order: 1, Description: "restart pod", TargetSystem: "k8s"}}})},
	}}
	p, mock, _ := newTestPipeline(t, delegator, notifier)

	anyInsert(mock)
	for i := 0; i < 7; i++ {
		anyUpdateReturning(mock, int64(i+1))
	}
	mock.ExpectQuery("SELECT doc_id, body, seq_no, primary_term FROM documents WHERE index_name = .*").
		WillReturnRows(sqlmock.NewRows([]string{"doc_id", "body", "seq_no", "primary_term"}))
	anyInsert(mock)

	err := p.operationalFlow(context.Background(), &models.Alert{AlertID: "ALT-2", RuleID: "ops-disk-full", AffectedAssetID: "disk-svc"})
	require.NoError(t, err)
	require.NotContains(t, delegator.calls, "investigator")
	require.NotContains(t, delegator.calls, "threat_hunter")
}

func TestCheckConflictingAssessments_FlagsUnmentionedAsset(t *testing.T) {
	investigate := &contract.InvestigateResponse{AffectedAssets: []string{"host-a"}}
	hunt := &contract.ThreatHuntResponse{ConfirmedCompromised: []string{"host-a", "host-b"}}
	reason := checkConflictingAssessments(investigate, hunt)
	require.Contains(t, reason, "host-b")
}

func TestCheckConflictingAssessments_NoConflictWhenSubset(t *testing.T) {
	investigate := &contract.InvestigateResponse{AffectedAssets: []string{"host-a", "host-b"}}
	hunt := &contract.ThreatHuntResponse{ConfirmedCompromised: []string{"host-a"}}
	require.Empty(t, checkConflictingAssessments(investigate, hunt))
}

func TestPlanRequiresApproval(t *testing.T) {
	require.True(t, planRequiresApproval([]models.PlanAction{{ApprovalRequired: true}}))
	require.False(t, planRequiresApproval([]models.PlanAction{{ApprovalRequired: false}}))
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
