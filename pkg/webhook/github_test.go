package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arome3/vigil/pkg/storage"
)

const testGitHubSecret = "github-secret"

func signGitHub(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.MonitorPingsOption(true),
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	client := storage.NewClientFromDB(db)
	s := NewServer(
		client,
		storage.NewIncidentStore(client),
		storage.NewGitHubEventStore(client),
		storage.NewApprovalResponseStore(client),
		testGitHubSecret,
		testSlackSecret,
		nil,
	)
	return s, mock
}

func TestGitHubWebhook_RejectsBadSignature(t *testing.T) {
	s, _ := newTestServer(t)

	body := []byte(`{"ref":"refs/heads/main"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("x-hub-signature-256", "sha256=deadbeef")
	req.Header.Set("X-GitHub-Event", "push")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGitHubWebhook_IgnoresUntrackedEventType(t *testing.T) {
	s, _ := newTestServer(t)

	body := []byte(`{"zen":"anything"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("x-hub-signature-256", signGitHub(testGitHubSecret, body))
	req.Header.Set("X-GitHub-Event", "star")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ignored", resp["status"])
}

func TestGitHubWebhook_IndexesPushEvent(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))

	body := []byte(`{"ref":"refs/heads/main","repository":{"full_name":"org/repo"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("x-hub-signature-256", signGitHub(testGitHubSecret, body))
	req.Header.Set("X-GitHub-Event", "push")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "indexed", resp["status"])
	assert.Equal(t, "push", resp["event_type"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGitHubWebhook_PullRequestOnlyIndexedWhenMerged(t *testing.T) {
	s, _ := newTestServer(t)

	body := []byte(`{"action":"closed","pull_request":{"merged":false}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("x-hub-signature-256", signGitHub(testGitHubSecret, body))
	req.Header.Set("X-GitHub-Event", "pull_request")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ignored", resp["status"])
}

func TestGitHubWebhook_MergedPullRequestIndexed(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))

	body := []byte(`{"action":"closed","pull_request":{"merged":true}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("x-hub-signature-256", signGitHub(testGitHubSecret, body))
	req.Header.Set("X-GitHub-Event", "pull_request")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidGitHubSignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := signGitHub("secret", body)
	assert.True(t, validGitHubSignature("secret", body, sig))
	assert.False(t, validGitHubSignature("secret", body, "sha256=wrong"))
	assert.False(t, validGitHubSignature("secret", body, "not-prefixed"))
	assert.False(t, validGitHubSignature("", body, sig))
}
