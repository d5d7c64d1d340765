package slack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arome3/vigil/pkg/models"
)

func TestNewIncidentNotifier_NilWhenUnconfigured(t *testing.T) {
	assert.Nil(t, NewIncidentNotifier("", "C1", "C2", "https://dash.example.com"))
	assert.Nil(t, NewIncidentNotifier("xoxb-test", "", "C2", "https://dash.example.com"))
	assert.Nil(t, NewIncidentNotifier("xoxb-test", "C1", "", "https://dash.example.com"))
}

func TestIncidentNotifier_NilReceiver_NoPanic(t *testing.T) {
	var n *IncidentNotifier
	n.NotifyEscalation(context.Background(), &models.Incident{IncidentID: "INC-1"}, "reason")
	n.NotifyApprovalRequested(context.Background(), &models.Incident{IncidentID: "INC-1"}, nil)
}

func TestIncidentNotifier_NotifyEscalation_Posts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"ts":"123.456"}`))
	}))
	defer server.Close()

	incidentClient := NewClientWithAPIURL("xoxb-test", "C1", server.URL+"/")
	approvalClient := NewClientWithAPIURL("xoxb-test", "C2", server.URL+"/")
	n := NewIncidentNotifierWithClients(incidentClient, approvalClient, "https://dash.example.com")

	n.NotifyEscalation(context.Background(), &models.Incident{IncidentID: "INC-1", Severity: models.SeverityHigh}, "health check failing")
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIncidentNotifier_NotifyApprovalRequested_Posts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"ts":"123.456"}`))
	}))
	defer server.Close()

	incidentClient := NewClientWithAPIURL("xoxb-test", "C1", server.URL+"/")
	approvalClient := NewClientWithAPIURL("xoxb-test", "C2", server.URL+"/")
	n := NewIncidentNotifierWithClients(incidentClient, approvalClient, "https://dash.example.com")

	actions := []models.PlanAction{{Order: 1, Description: "restart pod", TargetSystem: "k8s", ActionType: "remediation"}}
	n.NotifyApprovalRequested(context.Background(), &models.Incident{IncidentID: "INC-2"}, actions)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
