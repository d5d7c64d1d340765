package slack

import (
	"fmt"
	"strings"

	goslack "github.com/slack-go/slack"

	"github.com/arome3/vigil/pkg/models"
)

var severityEmoji = map[models.Severity]string{
	models.SeverityCritical: ":red_circle:",
	models.SeverityHigh:     ":large_orange_circle:",
	models.SeverityMedium:   ":large_yellow_circle:",
	models.SeverityLow:      ":large_blue_circle:",
	models.SeverityInfo:     ":white_circle:",
}

func incidentURL(incidentID, dashboardURL string) string {
	return fmt.Sprintf("%s/incidents/%s", dashboardURL, incidentID)
}

// BuildEscalationMessage creates Block Kit blocks announcing that an
// incident was escalated for human review.
func BuildEscalationMessage(incident *models.Incident, reason, dashboardURL string) []goslack.Block {
	emoji := severityEmoji[incident.Severity]
	if emoji == "" {
		emoji = ":rotating_light:"
	}

	header := fmt.Sprintf("%s *Incident escalated: %s*", emoji, incident.IncidentID)
	body := fmt.Sprintf("*Severity:* %s\n*Affected services:* %s\n*Reason:* %s",
		incident.Severity, strings.Join(incident.AffectedServices, ", "), reason)

	blocks := []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false), nil, nil),
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, body, false, false), nil, nil),
	}

	url := incidentURL(incident.IncidentID, dashboardURL)
	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, "View Incident", false, false))
	btn.URL = url
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

// BuildApprovalMessage creates Block Kit blocks listing a remediation
// plan's actions and an approve/reject/info button row. The button
// action_ids carry the incident id so the approval-callback webhook can
// recover it without a lookup: vigil_approve_<id>, vigil_reject_<id>,
// vigil_info_<id>.
func BuildApprovalMessage(incident *models.Incident, actions []models.PlanAction, dashboardURL string) []goslack.Block {
	header := fmt.Sprintf(":raised_hand: *Approval requested for %s*", incident.IncidentID)
	blocks := []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false), nil, nil),
	}

	var plan strings.Builder
	for _, action := range actions {
		severity := models.ApprovalSeverity(action.ActionType)
		fmt.Fprintf(&plan, "*%d.* [%s] %s _(target: %s)_\n", action.Order, severity, action.Description, action.TargetSystem)
	}
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(plan.String()), false, false), nil, nil,
	))

	approveBtn := goslack.NewButtonBlockElement("vigil_approve_"+incident.IncidentID, incident.IncidentID,
		goslack.NewTextBlockObject(goslack.PlainTextType, "Approve", false, false))
	approveBtn.Style = goslack.StylePrimary

	rejectBtn := goslack.NewButtonBlockElement("vigil_reject_"+incident.IncidentID, incident.IncidentID,
		goslack.NewTextBlockObject(goslack.PlainTextType, "Reject", false, false))
	rejectBtn.Style = goslack.StyleDanger

	infoBtn := goslack.NewButtonBlockElement("vigil_info_"+incident.IncidentID, incident.IncidentID,
		goslack.NewTextBlockObject(goslack.PlainTextType, "View Details", false, false))
	infoBtn.URL = incidentURL(incident.IncidentID, dashboardURL)

	blocks = append(blocks, goslack.NewActionBlock("", approveBtn, rejectBtn, infoBtn))
	return blocks
}
