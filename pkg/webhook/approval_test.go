package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSlackSecret = "slack-secret"

func signSlack(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + string(body)))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func approvalRequest(t *testing.T, actionID string) (*http.Request, []byte) {
	t.Helper()
	payload := fmt.Sprintf(`{"type":"block_actions","user":{"id":"U1","username":"alice"},"actions":[{"action_id":%q,"value":"INC-2026-AAAAA"}]}`, actionID)
	form := url.Values{"payload": {payload}}
	body := []byte(form.Encode())

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/api/vigil/approval-callback", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("x-slack-request-timestamp", ts)
	req.Header.Set("x-slack-signature", signSlack(testSlackSecret, ts, body))
	return req, body
}

func TestApprovalCallback_RejectsBadSignature(t *testing.T) {
	s, _ := newTestServer(t)

	req, _ := approvalRequest(t, "vigil_approve_INC-2026-AAAAA")
	req.Header.Set("x-slack-signature", "v0=deadbeef")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestApprovalCallback_RejectsStaleTimestamp(t *testing.T) {
	s, _ := newTestServer(t)

	payload := `{"type":"block_actions","user":{"id":"U1"},"actions":[{"action_id":"vigil_approve_INC-2026-AAAAA"}]}`
	body := []byte(url.Values{"payload": {payload}}.Encode())
	ts := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, "/api/vigil/approval-callback", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("x-slack-request-timestamp", ts)
	req.Header.Set("x-slack-signature", signSlack(testSlackSecret, ts, body))

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestApprovalCallback_InfoIsDisplayOnly(t *testing.T) {
	s, mock := newTestServer(t)

	req, _ := approvalRequest(t, "vigil_info_INC-2026-AAAAA")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, mock.ExpectationsWereMet()) // no SQL expected at all
}

func TestApprovalCallback_RejectsInvalidIncidentID(t *testing.T) {
	s, _ := newTestServer(t)

	req, _ := approvalRequest(t, "vigil_approve_; DROP TABLE")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApprovalCallback_Approve_UpdatesIncidentAndWritesAudit(t *testing.T) {
	s, mock := newTestServer(t)

	incidentRow := sqlmock.NewRows([]string{"doc_id", "body", "seq_no", "primary_term"}).
		AddRow("INC-2026-AAAAA", []byte(`{"incident_id":"INC-2026-AAAAA","approval_status":"pending"}`), int64(0), int64(1))
	mock.ExpectQuery("SELECT doc_id, body, seq_no, primary_term FROM documents WHERE index_name = .* AND doc_id = .*").
		WillReturnRows(incidentRow)
	mock.ExpectQuery("UPDATE documents").
		WillReturnRows(sqlmock.NewRows([]string{"seq_no", "primary_term"}).AddRow(int64(1), int64(1)))
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))

	req, _ := approvalRequest(t, "vigil_approve_INC-2026-AAAAA")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "approve", resp["action"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalCallback_Reject_UpdatesIncident(t *testing.T) {
	s, mock := newTestServer(t)

	incidentRow := sqlmock.NewRows([]string{"doc_id", "body", "seq_no", "primary_term"}).
		AddRow("INC-2026-AAAAA", []byte(`{"incident_id":"INC-2026-AAAAA","approval_status":"pending"}`), int64(0), int64(1))
	mock.ExpectQuery("SELECT doc_id, body, seq_no, primary_term FROM documents WHERE index_name = .* AND doc_id = .*").
		WillReturnRows(incidentRow)
	mock.ExpectQuery("UPDATE documents").
		WillReturnRows(sqlmock.NewRows([]string{"seq_no", "primary_term"}).AddRow(int64(1), int64(1)))
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))

	req, _ := approvalRequest(t, "vigil_reject_INC-2026-AAAAA")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParseActionID(t *testing.T) {
	outcome, id, ok := parseActionID("vigil_approve_INC-2026-AAAAA")
	require.True(t, ok)
	assert.Equal(t, "approve", outcome)
	assert.Equal(t, "INC-2026-AAAAA", id)

	_, _, ok = parseActionID("something_else")
	assert.False(t, ok)
}

func TestValidSlackSignature(t *testing.T) {
	body := []byte("a=1")
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := signSlack(testSlackSecret, ts, body)

	assert.True(t, validSlackSignature(testSlackSecret, ts, body, sig, now))
	assert.False(t, validSlackSignature(testSlackSecret, ts, body, "v0=wrong", now))
	assert.False(t, validSlackSignature(testSlackSecret, ts, body, sig, now.Add(10*time.Minute)))
	assert.False(t, validSlackSignature("", ts, body, sig, now))
}
