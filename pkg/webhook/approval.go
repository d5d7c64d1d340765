package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arome3/vigil/pkg/metrics"
	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/storage"
	"github.com/arome3/vigil/pkg/vigilerr"
)

const (
	approvePrefix = "vigil_approve_"
	rejectPrefix  = "vigil_reject_"
	infoPrefix    = "vigil_info_"

	signatureMaxAge = 300 * time.Second
	casRetries      = 3
)

var incidentIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// interactionPayload is the subset of Slack's block_actions interactivity
// payload the approval callback needs.
type interactionPayload struct {
	Type string `json:"type"`
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

// handleApprovalCallback verifies the Slack request signature, extracts the
// incident id from the clicked button's action_id, and for approve/reject
// clicks updates the incident's whole-plan approval gate plus writes an
// audit document. info clicks are display-only and never indexed.
func (s *Server) handleApprovalCallback(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	ts := c.GetHeader("x-slack-request-timestamp")
	sig := c.GetHeader("x-slack-signature")
	if !validSlackSignature(s.slackSecret, ts, raw, sig, time.Now()) {
		metrics.Get().WebhookRequestsTotal.WithLabelValues("approval-callback", "401").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	// GetRawData drained the body to compute the signature over the exact
	// bytes received; restore it so PostForm can still parse the payload.
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	payloadField := c.PostForm("payload")
	if payloadField == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing payload field"})
		return
	}

	var interaction interactionPayload
	if err := json.Unmarshal([]byte(payloadField), &interaction); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interaction payload"})
		return
	}
	if len(interaction.Actions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no action in payload"})
		return
	}

	actionID := interaction.Actions[0].ActionID
	outcome, incidentID, ok := parseActionID(actionID)
	if !ok || !incidentIDPattern.MatchString(incidentID) {
		metrics.Get().WebhookRequestsTotal.WithLabelValues("approval-callback", "400").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or unrecognized action_id"})
		return
	}

	if outcome == "info" {
		metrics.Get().ApprovalCallbacksTotal.WithLabelValues("info").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "action": "info"})
		return
	}

	if err := s.applyApprovalOutcome(c.Request.Context(), incidentID, outcome); err != nil {
		log.Error("failed to apply approval outcome", "incident_id", incidentID, "outcome", outcome, "error", err)
		metrics.Get().WebhookRequestsTotal.WithLabelValues("approval-callback", "500").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record approval"})
		return
	}

	if err := s.approvals.Record(c.Request.Context(), uuid.NewString(), storage.ApprovalResponseDoc{
		IncidentID: incidentID,
		Value:      outcome,
		Timestamp:  time.Now().UTC(),
		Responder:  interaction.User.Username,
	}); err != nil {
		// The incident document is already updated; losing the audit
		// record is a telemetry gap, not a correctness problem.
		log.Error("failed to write approval audit record", "incident_id", incidentID, "error", err)
	}

	metrics.Get().ApprovalCallbacksTotal.WithLabelValues(outcome).Inc()
	metrics.Get().WebhookRequestsTotal.WithLabelValues("approval-callback", "200").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "action": outcome})
}

// applyApprovalOutcome sets the incident's whole-plan ApprovalStatus via a
// compare-and-swap, retrying on a concurrency conflict by re-reading the
// current document -- the same retry policy the error taxonomy prescribes
// for ConcurrencyConflict elsewhere in the pipeline.
func (s *Server) applyApprovalOutcome(ctx context.Context, incidentID, outcome string) error {
	status := models.ApprovalApproved
	if outcome == "reject" {
		status = models.ApprovalRejected
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		inc, err := s.incidents.Get(ctx, incidentID)
		if err != nil {
			return fmt.Errorf("load incident %s: %w", incidentID, err)
		}
		if inc.ApprovalStatus == status {
			return nil
		}

		inc.ApprovalStatus = status
		if _, err := s.incidents.Update(ctx, inc); err != nil {
			if errors.Is(err, vigilerr.ErrConcurrencyConflict) {
				continue
			}
			return fmt.Errorf("update incident %s approval status: %w", incidentID, err)
		}
		return nil
	}
	return fmt.Errorf("update incident %s approval status: exhausted %d retries on concurrency conflict", incidentID, casRetries)
}

// parseActionID splits a button action_id into its outcome
// ("approve"/"reject"/"info") and incident id.
func parseActionID(actionID string) (outcome, incidentID string, ok bool) {
	switch {
	case strings.HasPrefix(actionID, approvePrefix):
		return "approve", strings.TrimPrefix(actionID, approvePrefix), true
	case strings.HasPrefix(actionID, rejectPrefix):
		return "reject", strings.TrimPrefix(actionID, rejectPrefix), true
	case strings.HasPrefix(actionID, infoPrefix):
		return "info", strings.TrimPrefix(actionID, infoPrefix), true
	default:
		return "", "", false
	}
}

// validSlackSignature reports whether sig matches v0=HMAC-SHA256(secret,
// "v0:{ts}:{body}") and ts is within signatureMaxAge of now.
func validSlackSignature(secret, ts string, body []byte, sig string, now time.Time) bool {
	if secret == "" || ts == "" || sig == "" {
		return false
	}

	seconds, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	age := now.Sub(time.Unix(seconds, 0))
	if age < 0 {
		age = -age
	}
	if age > signatureMaxAge {
		return false
	}

	base := "v0:" + ts + ":" + string(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(sig))
}
