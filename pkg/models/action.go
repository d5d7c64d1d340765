package models

import "time"

// ExecutionStatus is the terminal state of a single action attempt.
type ExecutionStatus string

const (
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionSkipped   ExecutionStatus = "skipped"
)

// ActionRecord is one append-only audit entry per action attempt.
type ActionRecord struct {
	ActionID     string `json:"action_id" db:"action_id"`
	IncidentID   string `json:"incident_id" db:"incident_id"`
	ActionType   string `json:"action_type" db:"action_type"`
	TargetSystem string `json:"target_system" db:"target_system"`
	TargetAsset  string `json:"target_asset,omitempty" db:"target_asset"`

	ApprovalRequired bool           `json:"approval_required" db:"approval_required"`
	ApprovalStatus   ApprovalStatus `json:"approval_status,omitempty" db:"approval_status"`

	ExecutionStatus ExecutionStatus `json:"execution_status" db:"execution_status"`

	StartedAt       time.Time `json:"started_at" db:"started_at"`
	CompletedAt     time.Time `json:"completed_at,omitempty" db:"completed_at"`
	DurationMs      int64     `json:"duration_ms,omitempty" db:"duration_ms"`
	ErrorMessage    string    `json:"error_message,omitempty" db:"error_message"`
	RollbackAvailable bool    `json:"rollback_available" db:"rollback_available"`
	WorkflowID      string    `json:"workflow_id,omitempty" db:"workflow_id"`

	SeqNo       int64 `json:"-" db:"seq_no"`
	PrimaryTerm int64 `json:"-" db:"primary_term"`
}

// PlanAction is one step of a remediation plan produced by the Commander
// agent (order, approval_required, description,
// target_system are required).
type PlanAction struct {
	Order            int    `json:"order"`
	ApprovalRequired bool   `json:"approval_required"`
	Description      string `json:"description"`
	TargetSystem     string `json:"target_system"`
	TargetAsset      string `json:"target_asset,omitempty"`
	ActionType       string `json:"action_type"`
}

// ApprovalSeverity derives the display severity for an approval request,
// per the action-type mapping below.
func ApprovalSeverity(actionType string) string {
	switch actionType {
	case "containment":
		return "critical"
	case "remediation":
		return "high"
	case "communication", "documentation":
		return "low"
	default:
		return "high"
	}
}
