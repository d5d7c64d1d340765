package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arome3/vigil/pkg/metrics"
)

// indexedGitHubEvents is the set of X-GitHub-Event values Vigil records for
// change correlation. pull_request is filtered further: only merged PRs.
var indexedGitHubEvents = map[string]bool{
	"push":              true,
	"deployment":        true,
	"deployment_status": true,
	"pull_request":      true,
}

type pullRequestPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Merged bool `json:"merged"`
	} `json:"pull_request"`
}

// handleGitHubWebhook verifies the request's HMAC-SHA256 signature against
// GITHUB_WEBHOOK_SECRET, then indexes the event for change correlation if
// its type is one Vigil tracks. event_type is taken verbatim from the
// X-GitHub-Event header, never re-derived from the payload.
func (s *Server) handleGitHubWebhook(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	signature := c.GetHeader("x-hub-signature-256")
	if !validGitHubSignature(s.githubSecret, raw, signature) {
		metrics.Get().WebhookRequestsTotal.WithLabelValues("github", "401").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	eventType := c.GetHeader("X-GitHub-Event")

	if !indexedGitHubEvents[eventType] {
		metrics.Get().WebhookRequestsTotal.WithLabelValues("github", "200").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "event_type": eventType})
		return
	}

	if eventType == "pull_request" {
		var pr pullRequestPayload
		if err := json.Unmarshal(raw, &pr); err != nil || !pr.PullRequest.Merged {
			metrics.Get().WebhookRequestsTotal.WithLabelValues("github", "200").Inc()
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "event_type": eventType})
			return
		}
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	body["event_type"] = eventType

	id := uuid.NewString()
	if err := s.events.Record(c.Request.Context(), id, body); err != nil {
		log.Error("failed to index github event", "event_type", eventType, "error", err)
		metrics.Get().WebhookRequestsTotal.WithLabelValues("github", "500").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to index event"})
		return
	}

	metrics.Get().GitHubEventsTotal.WithLabelValues(eventType).Inc()
	metrics.Get().WebhookRequestsTotal.WithLabelValues("github", "200").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "indexed", "event_type": eventType, "id": id})
}

// validGitHubSignature reports whether signature (the raw
// x-hub-signature-256 header value, "sha256=<hex>") matches the HMAC-SHA256
// of body under secret.
func validGitHubSignature(secret string, body []byte, signature string) bool {
	const prefix = "sha256="
	if secret == "" || !strings.HasPrefix(signature, prefix) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, prefix)))
}
