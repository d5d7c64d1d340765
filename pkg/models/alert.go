package models

import "time"

// Alert is an input detection event. Two marker fields govern the
// watcher's claim protocol: ProcessingStartedAt is set atomically when a
// watcher claims the alert; ProcessedAt is set once the pipeline finishes.
type Alert struct {
	AlertID          string    `json:"alert_id" db:"alert_id"`
	RuleID           string    `json:"rule_id" db:"rule_id"`
	SeverityOriginal string    `json:"severity_original" db:"severity_original"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`

	SourceIP        string `json:"source_ip,omitempty" db:"source_ip"`
	SourceUser      string `json:"source_user,omitempty" db:"source_user"`
	AffectedAssetID string `json:"affected_asset_id,omitempty" db:"affected_asset_id"`

	// ChangeCorrelationConfidence carries an upstream change-management
	// system's confidence ("high", "medium", "low") that this operational
	// alert is explained by a recent deploy or config change. Empty for
	// security alerts, which don't go through change correlation.
	ChangeCorrelationConfidence string `json:"change_correlation_confidence,omitempty" db:"change_correlation_confidence"`

	ProcessingStartedAt *time.Time `json:"_processing_started_at,omitempty" db:"processing_started_at"`
	ProcessedAt         *time.Time `json:"processed_at,omitempty" db:"processed_at"`

	SeqNo       int64 `json:"-" db:"seq_no"`
	PrimaryTerm int64 `json:"-" db:"primary_term"`
}

// IsSentinelOrOps reports whether RuleID carries the "sentinel-" or "ops-"
// prefix the Coordinator uses to classify operational alerts.
func (a *Alert) IsSentinelOrOps() bool {
	return hasAnyPrefix(a.RuleID, "sentinel-", "ops-")
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}
