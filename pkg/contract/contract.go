// Package contract implements the six request/response schemas exchanged
// over A2A. Validators accumulate every error rather than
// short-circuiting, and raise a single vigilerr.ContractValidationError.
// Builders are the dual of validators: they set exactly the fields a
// schema requires and omit optional fields the caller didn't provide.
package contract

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/vigilerr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// accumulate runs validate.Struct and flattens every field error into a
// human-readable message, rather than stopping at the first failure.
func accumulate(contractName string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !isValidationErrors(err, &fieldErrs) {
		return vigilerr.NewContractValidationError(contractName, []string{err.Error()})
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed '%s' (value=%v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return vigilerr.NewContractValidationError(contractName, msgs)
}

func isValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = ve
	return true
}

// TriageRequest is sent to the Triage agent.
type TriageRequest struct {
	IncidentType string `json:"incident_type" validate:"required,oneof=security operational"`
	AlertIDs     []string `json:"alert_ids" validate:"required,min=1"`
}

// TriageResponse carries the priority score and disposition.
type TriageResponse struct {
	PriorityScore float64 `json:"priority_score" validate:"gte=0,lte=1"`
	Disposition   string  `json:"disposition" validate:"required,oneof=investigate queue suppress"`
}

func ValidateTriageResponse(r *TriageResponse) error { return accumulate("triage_response", r) }

// InvestigateRequest is sent to the Investigator agent.
type InvestigateRequest struct {
	IncidentID             string `json:"incident_id" validate:"required"`
	AlertIDs               []string `json:"alert_ids" validate:"required,min=1"`
	PreviousFailureAnalysis string `json:"previous_failure_analysis,omitempty"`
}

// NewInvestigateRequest builds the request with previous_failure_analysis
// only set when provided, matching the builder contract's "omit when not
// provided" rule.
func NewInvestigateRequest(incidentID string, alertIDs []string, previousFailureAnalysis string) *InvestigateRequest {
	req := &InvestigateRequest{IncidentID: incidentID, AlertIDs: alertIDs}
	if previousFailureAnalysis != "" {
		req.PreviousFailureAnalysis = previousFailureAnalysis
	}
	return req
}

// InvestigateResponse carries the investigator's findings and routing hint.
type InvestigateResponse struct {
	Summary          string   `json:"summary" validate:"required"`
	AffectedAssets   []string `json:"affected_assets"`
	RecommendedNext  string   `json:"recommended_next" validate:"required,oneof=plan_remediation threat_hunt escalate"`
}

func ValidateInvestigateResponse(r *InvestigateResponse) error {
	return accumulate("investigate_response", r)
}

// ThreatHuntResponse carries the hunter's confirmed-compromised asset set.
type ThreatHuntResponse struct {
	ConfirmedCompromised []string `json:"confirmed_compromised"`
}

func ValidateThreatHuntResponse(r *ThreatHuntResponse) error {
	return accumulate("threat_hunt_response", r)
}

// PlanRequest is sent to the Commander agent.
type PlanRequest struct {
	IncidentID string `json:"incident_id" validate:"required"`
	Summary    string `json:"summary" validate:"required"`
}

// PlanResponse carries the remediation plan's action list.
type PlanResponse struct {
	Actions []models.PlanAction `json:"actions" validate:"required,min=1,dive"`
}

func ValidatePlanResponse(r *PlanResponse) error {
	errs := validatePlanActions(r.Actions)
	return vigilerr.NewContractValidationError("plan_response", errs)
}

func validatePlanActions(actions []models.PlanAction) []string {
	var errs []string
	if len(actions) == 0 {
		errs = append(errs, "actions: at least one action is required")
	}
	for i, a := range actions {
		if a.Order == 0 {
			errs = append(errs, fmt.Sprintf("actions[%d].order is required", i))
		}
		if a.Description == "" {
			errs = append(errs, fmt.Sprintf("actions[%d].description is required", i))
		}
		if a.TargetSystem == "" {
			errs = append(errs, fmt.Sprintf("actions[%d].target_system is required", i))
		}
	}
	return errs
}

// ExecuteRequest is sent to the Executor.
type ExecuteRequest struct {
	IncidentID string               `json:"incident_id" validate:"required"`
	Actions    []models.PlanAction  `json:"actions" validate:"required,min=1"`
}

// ExecuteResponse carries the execution outcome.
type ExecuteResponse struct {
	Status          string   `json:"status" validate:"required,oneof=completed partial_failure failed"`
	ActionsCompleted int     `json:"actions_completed"`
	Results         []string `json:"results"`
}

func ValidateExecuteResponse(r *ExecuteResponse) error {
	return accumulate("execute_response", r)
}

// VerifyRequest is sent to the Verifier.
type VerifyRequest struct {
	IncidentID        string                     `json:"incident_id" validate:"required"`
	AffectedServices  []string                   `json:"affected_services" validate:"required,min=1"`
	SuccessCriteria   []models.SuccessCriterion  `json:"success_criteria" validate:"required,min=1"`
}

func ValidateVerifyRequest(r *VerifyRequest) error {
	var errs []string
	if r.IncidentID == "" {
		errs = append(errs, "incident_id is required")
	}
	if len(r.AffectedServices) == 0 {
		errs = append(errs, "affected_services must be non-empty")
	}
	if len(r.SuccessCriteria) == 0 {
		errs = append(errs, "success_criteria must be non-empty")
	}
	for i, c := range r.SuccessCriteria {
		if c.Metric == "" {
			errs = append(errs, fmt.Sprintf("success_criteria[%d].metric is required", i))
		}
		if c.ServiceName == "" {
			errs = append(errs, fmt.Sprintf("success_criteria[%d].service_name is required", i))
		}
		switch c.Operator {
		case models.OperatorLTE, models.OperatorGTE, models.OperatorEQ:
		default:
			errs = append(errs, fmt.Sprintf("success_criteria[%d].operator must be lte, gte, or eq", i))
		}
	}
	return vigilerr.NewContractValidationError("verify_request", errs)
}

// VerifyResponse carries the verification outcome.
type VerifyResponse struct {
	Passed           bool     `json:"passed"`
	HealthScore      float64  `json:"health_score" validate:"gte=0,lte=1"`
	CriteriaResults  []models.CriterionResult `json:"criteria_results"`
	FailureAnalysis  string   `json:"failure_analysis,omitempty"`
	Iteration        int      `json:"iteration"`
}

// ValidateVerifyResponse enforces the one cross-field invariant the
// struct tags can't express: passed=false requires a non-empty
// failure_analysis.
func ValidateVerifyResponse(r *VerifyResponse) error {
	errs := []string{}
	if err := validate.Struct(r); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				errs = append(errs, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}
	if !r.Passed && r.FailureAnalysis == "" {
		errs = append(errs, "failure_analysis is required when passed=false")
	}
	return vigilerr.NewContractValidationError("verify_response", errs)
}
