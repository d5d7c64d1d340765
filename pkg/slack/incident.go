package slack

import (
	"context"
	"log/slog"
	"time"

	"github.com/arome3/vigil/pkg/models"
)

// IncidentNotifier implements coordinator.Notifier on top of Client,
// posting escalations to one channel and approval requests (with
// interactive buttons) to another. Nil-safe: all methods are no-ops when
// the notifier is nil, and post failures are logged, never returned.
type IncidentNotifier struct {
	incidentClient *Client
	approvalClient *Client
	dashboardURL   string
	logger         *slog.Logger
}

// NewIncidentNotifier builds an IncidentNotifier, or returns nil if token,
// incidentChannel, or approvalChannel is empty.
func NewIncidentNotifier(token, incidentChannel, approvalChannel, dashboardURL string) *IncidentNotifier {
	if token == "" || incidentChannel == "" || approvalChannel == "" {
		return nil
	}
	return &IncidentNotifier{
		incidentClient: NewClient(token, incidentChannel),
		approvalClient: NewClient(token, approvalChannel),
		dashboardURL:   dashboardURL,
		logger:         slog.Default().With("component", "slack-incident-notifier"),
	}
}

// NewIncidentNotifierWithClients builds an IncidentNotifier from pre-built
// Clients, for testing against a mock API server.
func NewIncidentNotifierWithClients(incidentClient, approvalClient *Client, dashboardURL string) *IncidentNotifier {
	return &IncidentNotifier{
		incidentClient: incidentClient,
		approvalClient: approvalClient,
		dashboardURL:   dashboardURL,
		logger:         slog.Default().With("component", "slack-incident-notifier"),
	}
}

// NotifyEscalation posts an escalation notice to the incident channel.
// Fail-open: errors are logged, never returned, since a notification
// failure must never block the orchestration pipeline that called it.
func (n *IncidentNotifier) NotifyEscalation(ctx context.Context, incident *models.Incident, reason string) {
	if n == nil {
		return
	}
	blocks := BuildEscalationMessage(incident, reason, n.dashboardURL)
	if err := n.incidentClient.PostMessage(ctx, blocks, "", 5*time.Second); err != nil {
		n.logger.Error("failed to post escalation notice", "incident_id", incident.IncidentID, "error", err)
	}
}

// NotifyApprovalRequested posts an interactive approval request to the
// approval channel, with one block of approve/reject/info buttons whose
// action_ids the webhook server's callback handler parses.
func (n *IncidentNotifier) NotifyApprovalRequested(ctx context.Context, incident *models.Incident, actions []models.PlanAction) {
	if n == nil {
		return
	}
	blocks := BuildApprovalMessage(incident, actions, n.dashboardURL)
	if err := n.approvalClient.PostMessage(ctx, blocks, "", 10*time.Second); err != nil {
		n.logger.Error("failed to post approval request", "incident_id", incident.IncidentID, "error", err)
	}
}
