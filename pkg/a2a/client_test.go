package a2a

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/vigilerr"
)

func validEnvelope(task string) *models.Envelope {
	return &models.Envelope{
		MessageID:     "msg-1",
		FromAgent:     "coordinator",
		ToAgent:       "commander",
		Timestamp:     time.Now().UTC(),
		CorrelationID: "INC-2026-AAAAA",
		Payload:       map[string]any{"task": task},
	}
}

func TestClient_Send_MissingFieldsRejectedWithoutSending(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	registry := NewRegistry(server.URL, server.Client())
	client := NewClient(registry, nil, nil)

	envelope := &models.Envelope{} // everything missing
	_, err := client.Send(context.Background(), "commander", envelope, nil)

	var validationErr *vigilerr.EnvelopeValidationError
	require.ErrorAs(t, err, &validationErr)
	require.False(t, called)
}

func TestClient_Send_CapabilityGating(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	registry := NewRegistry(server.URL, server.Client())
	seedCard(registry, models.AgentCard{
		AgentID:      "commander",
		Endpoint:     server.URL + "/agents/commander",
		Capabilities: map[string]bool{"plan_remediation": true},
	})
	client := NewClient(registry, nil, nil)

	_, err := client.Send(context.Background(), "commander", validEnvelope("verify_resolution"), nil)

	var a2aErr *vigilerr.A2AError
	require.ErrorAs(t, err, &a2aErr)
}

func TestClient_Send_SuccessReturnsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	registry := NewRegistry(server.URL, server.Client())
	seedCard(registry, models.AgentCard{AgentID: "commander", Endpoint: server.URL + "/agents/commander"})
	client := NewClient(registry, nil, nil)

	body, err := client.Send(context.Background(), "commander", validEnvelope("plan_remediation"), nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(body))
}

func TestClient_Send_RetriesOnceOn5xxThenGivesUp(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	registry := NewRegistry(server.URL, server.Client())
	seedCard(registry, models.AgentCard{AgentID: "commander", Endpoint: server.URL + "/agents/commander"})
	client := NewClient(registry, nil, nil)

	_, err := client.Send(context.Background(), "commander", validEnvelope("plan_remediation"), nil)
	require.Error(t, err)
	require.Equal(t, 2, attempts)
}

// seedCard injects a card directly into the registry's cache without going
// through DiscoverAll, for tests that only need Send's behavior.
func seedCard(r *Registry, card models.AgentCard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = &Discovery{Available: []models.AgentCard{card}, FetchedAt: time.Now().UTC()}
}
