// Package pagerduty implements an Events API v2 client for paging on-call
// responders when an incident escalates, wrapped in the same
// consecutive-failure breaker used for Slack.
package pagerduty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arome3/vigil/pkg/breaker"
	"github.com/arome3/vigil/pkg/logging"
	"github.com/arome3/vigil/pkg/metrics"
	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/vigilerr"
)

const eventsAPIURL = "https://events.pagerduty.com/v2/enqueue"

var log = logging.Component("pagerduty")

// severityFor maps an incident's severity onto the PagerDuty vocabulary.
// This is distinct from models.ApprovalSeverity, which is keyed on a plan
// action's type rather than the incident's own severity.
var severityFor = map[models.Severity]string{
	models.SeverityCritical: "critical",
	models.SeverityHigh:     "error",
	models.SeverityMedium:   "warning",
	models.SeverityLow:      "info",
	models.SeverityInfo:     "info",
}

// event is the Events API v2 request envelope for an incident trigger.
type event struct {
	RoutingKey  string      `json:"routing_key"`
	EventAction string      `json:"event_action"`
	DedupKey    string      `json:"dedup_key"`
	Payload     eventDetail `json:"payload"`
}

type eventDetail struct {
	Summary       string `json:"summary"`
	Source        string `json:"source"`
	Severity      string `json:"severity"`
	Timestamp     string `json:"timestamp"`
	CustomDetails any    `json:"custom_details,omitempty"`
}

type eventResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	DedupKey string `json:"dedup_key"`
}

// Client pages PagerDuty through the Events API v2, deduplicating one alert
// per incident via dedup_key.
type Client struct {
	httpClient *http.Client
	apiURL     string
	routingKey string
	source     string
	breaker    *breaker.IntegrationBreaker
	now        func() time.Time
}

func NewClient(routingKey, source string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiURL:     eventsAPIURL,
		routingKey: routingKey,
		source:     source,
		breaker:    breaker.NewIntegrationBreaker(breaker.DefaultIntegrationBreakerConfig("pagerduty")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewClientWithAPIURL builds a Client that targets a custom Events API URL,
// for testing against a mock server.
func NewClientWithAPIURL(routingKey, source, apiURL string) *Client {
	c := NewClient(routingKey, source)
	c.apiURL = apiURL
	return c
}

// TriggerIncident pages on-call for incident, deduplicated on
// "vigil-"+incident_id so repeated escalations of the same incident collapse
// into one PagerDuty incident.
func (c *Client) TriggerIncident(ctx context.Context, incident *models.Incident, summary string) error {
	dedupKey := "vigil-" + incident.IncidentID
	severity, ok := severityFor[incident.Severity]
	if !ok {
		severity = "warning"
	}

	body := event{
		RoutingKey:  c.routingKey,
		EventAction: "trigger",
		DedupKey:    dedupKey,
		Payload: eventDetail{
			Summary:   summary,
			Source:    c.source,
			Severity:  severity,
			Timestamp: c.now().Format(time.RFC3339),
			CustomDetails: map[string]any{
				"incident_id":       incident.IncidentID,
				"affected_services": incident.AffectedServices,
				"status":            incident.Status,
			},
		},
	}

	_, err := c.breaker.Call(ctx, func(ctx context.Context) (any, error) {
		return nil, c.send(ctx, body)
	}, isRetryable)
	c.recordBreakerState()

	if err != nil {
		log.Warn("pagerduty trigger failed", "incident_id", incident.IncidentID, "error", err)
		return err
	}
	return nil
}

// Resolve tells PagerDuty the underlying condition cleared, closing out any
// open incident sharing dedupKey.
func (c *Client) Resolve(ctx context.Context, incidentID string) error {
	body := event{
		RoutingKey:  c.routingKey,
		EventAction: "resolve",
		DedupKey:    "vigil-" + incidentID,
	}
	_, err := c.breaker.Call(ctx, func(ctx context.Context) (any, error) {
		return nil, c.send(ctx, body)
	}, isRetryable)
	c.recordBreakerState()
	return err
}

// recordBreakerState publishes the breaker's current gobreaker state (0, 1,
// or 2) to the process-wide circuit_breaker_state gauge.
func (c *Client) recordBreakerState() {
	metrics.Get().SetBreakerState("pagerduty", float64(c.breaker.State()))
}

func (c *Client) send(ctx context.Context, body event) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal pagerduty event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build pagerduty request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &vigilerr.IntegrationError{Provider: "pagerduty", Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var decoded eventResponse
	_ = json.Unmarshal(raw, &decoded)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return &vigilerr.IntegrationError{
			Provider:  "pagerduty",
			Err:       fmt.Errorf("status %d: %s", resp.StatusCode, decoded.Message),
			Retryable: true,
		}
	default:
		return &vigilerr.IntegrationError{
			Provider:  "pagerduty",
			Err:       fmt.Errorf("status %d: %s", resp.StatusCode, decoded.Message),
			Retryable: false,
		}
	}
}

func isRetryable(err error) bool {
	var integrationErr *vigilerr.IntegrationError
	if errors.As(err, &integrationErr) {
		return integrationErr.Retryable
	}
	return false
}
