package models

import "time"

// Baseline is a per-service statistical record consumed by the Verifier
// when comparing post-remediation health against historical norms.
type Baseline struct {
	ServiceName string  `json:"service_name" db:"service_name"`
	MetricName  string  `json:"metric_name" db:"metric_name"`
	AvgValue    float64 `json:"avg_value" db:"avg_value"`
	StddevValue float64 `json:"stddev_value" db:"stddev_value"`
}

// Runbook is an operator-authored remediation reference consumed by the
// Commander agent. The runtime only stores and looks these up; it does not
// interpret their content.
type Runbook struct {
	RunbookID string `json:"runbook_id" db:"runbook_id"`
	AlertType string `json:"alert_type" db:"alert_type"`
	Content   string `json:"content" db:"content"`
	URL       string `json:"url,omitempty" db:"url"`
}

// LearningRecord is written by the Analyst; the runtime treats its body as
// opaque beyond the generation dedup check in the Analyst scheduler row.
type LearningRecord struct {
	LearningID string `json:"learning_id" db:"learning_id"`
	IncidentID string `json:"incident_id" db:"incident_id"`
	Generation string `json:"generation" db:"generation"`
	Content    string `json:"content" db:"content"`
}

// ReportKind distinguishes a per-incident retrospective from the daily
// batch digest.
type ReportKind string

const (
	ReportKindIncident ReportKind = "incident"
	ReportKindDaily    ReportKind = "daily"
)

// ReportState tracks a report trigger's progress. The Analyst scheduler
// writes and transitions this record; it never inspects the generator's
// actual output.
type ReportState string

const (
	ReportPending    ReportState = "pending"
	ReportGenerating ReportState = "generating"
	ReportCompleted  ReportState = "completed"
	ReportFailed     ReportState = "failed"
)

// ReportStatus is the status record the Analyst scheduler writes for every
// report it triggers, independent of what the generator produces.
type ReportStatus struct {
	ReportID    string      `json:"report_id" db:"report_id"`
	Kind        ReportKind  `json:"kind" db:"kind"`
	Key         string      `json:"key" db:"key"` // incident_id, or "daily:<date>"
	Status      ReportState `json:"status" db:"status"`
	TriggeredAt time.Time   `json:"triggered_at" db:"triggered_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
	Error       string      `json:"error,omitempty" db:"error"`

	SeqNo       int64 `json:"-" db:"-"`
	PrimaryTerm int64 `json:"-" db:"-"`
}

// SuccessCriterion is one entry in a remediation plan's verification
// contract: metric, operator, threshold, service_name are required.
type SuccessCriterion struct {
	Metric      string  `json:"metric"`
	ServiceName string  `json:"service_name"`
	Threshold   float64 `json:"threshold"`
	Operator    Operator `json:"operator"`
}

// Operator is the comparison applied between a metric's observed value and
// its threshold.
type Operator string

const (
	OperatorLTE Operator = "lte"
	OperatorGTE Operator = "gte"
	OperatorEQ  Operator = "eq"
)

// Evaluate applies the operator to (value, threshold).
func (op Operator) Evaluate(value, threshold float64) bool {
	switch op {
	case OperatorLTE:
		return value <= threshold
	case OperatorGTE:
		return value >= threshold
	case OperatorEQ:
		return value == threshold
	default:
		return false
	}
}

// CriterionResult records the pass/fail outcome of one success criterion
// against one service's observed metrics.
type CriterionResult struct {
	Criterion     SuccessCriterion `json:"criterion"`
	ObservedValue float64          `json:"observed_value"`
	ThresholdPass bool             `json:"threshold_pass"`
	BaselinePass  bool             `json:"baseline_pass"`
	Passed        bool             `json:"passed"` // dual-threshold: both must hold
}
