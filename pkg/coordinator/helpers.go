package coordinator

import (
	"fmt"
	"strings"

	"github.com/arome3/vigil/pkg/contract"
	"github.com/arome3/vigil/pkg/models"
)

// severityFromAlert maps an alert's original severity string onto the
// incident severity enum, defaulting to medium for anything unrecognized.
func severityFromAlert(alert *models.Alert) models.Severity {
	switch strings.ToLower(alert.SeverityOriginal) {
	case "critical":
		return models.SeverityCritical
	case "high":
		return models.SeverityHigh
	case "medium":
		return models.SeverityMedium
	case "low":
		return models.SeverityLow
	case "info", "informational":
		return models.SeverityInfo
	default:
		return models.SeverityMedium
	}
}

func affectedServicesFromAlert(alert *models.Alert) []string {
	if alert.AffectedAssetID == "" {
		return nil
	}
	return []string{alert.AffectedAssetID}
}

func changeCorrelationConfidence(alert *models.Alert) string {
	return alert.ChangeCorrelationConfidence
}

// planRequiresApproval reports whether any action in the plan needs a
// human sign-off before it can run.
func planRequiresApproval(actions []models.PlanAction) bool {
	for _, a := range actions {
		if a.ApprovalRequired {
			return true
		}
	}
	return false
}

func summarizeActions(actions []models.PlanAction) string {
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		parts = append(parts, fmt.Sprintf("%d. %s (%s)", a.Order, a.Description, a.TargetSystem))
	}
	return strings.Join(parts, "; ")
}

// checkConflictingAssessments compares the threat hunter's confirmed-
// compromised asset set against the investigator's findings. Returns a
// non-empty reason string when the hunter confirmed an asset the
// investigator never mentioned.
func checkConflictingAssessments(investigate *contract.InvestigateResponse, hunt *contract.ThreatHuntResponse) string {
	mentioned := make(map[string]bool, len(investigate.AffectedAssets))
	for _, a := range investigate.AffectedAssets {
		mentioned[a] = true
	}
	for _, confirmed := range hunt.ConfirmedCompromised {
		if !mentioned[confirmed] {
			return fmt.Sprintf("threat hunter confirmed compromise of %s, not mentioned by investigator", confirmed)
		}
	}
	return ""
}
