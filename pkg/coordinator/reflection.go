package coordinator

import (
	"context"
	"fmt"

	"github.com/arome3/vigil/pkg/models"
)

// handleReflectionLoop re-investigates, re-plans, re-executes and
// re-verifies a failed remediation. It is invoked both from the initial
// verify failure and recursively from within itself, so every step
// re-reads the incident from p's transition helper rather than trusting a
// stale pointer across iterations.
func (p *DelegationPipeline) handleReflectionLoop(ctx context.Context, inc *models.Incident, failureAnalysis string) error {
	inc.ReflectionCount++
	inc, err := p.transition(ctx, inc, models.StatusReflecting)
	if err != nil {
		return err
	}

	// Evaluate the reflection-limit guard ourselves before attempting the
	// reflecting->investigating transition: the state machine would honor
	// the same guard and silently redirect to escalated, but the pipeline
	// still needs to record escalation_reason and fire the notifier, so it
	// must not let that redirect happen invisibly underneath a call it
	// thinks succeeded as a normal transition.
	if inc.ReflectionCount >= p.maxReflections {
		p.escalate(ctx, inc, "reflection_limit_reached")
		return nil
	}

	inc, err = p.transition(ctx, inc, models.StatusInvestigating)
	if err != nil {
		return err
	}

	investigateResp, err := p.callInvestigate(ctx, inc, failureAnalysis)
	if err != nil {
		p.escalate(ctx, inc, "reinvestigation_failed")
		return err
	}
	inc.InvestigationSummary = investigateResp.Summary
	inc.AffectedServices = investigateResp.AffectedAssets
	// Threat-hunt is skipped on reflection iterations regardless of
	// recommended_next.

	inc, err = p.transition(ctx, inc, models.StatusPlanning)
	if err != nil {
		return err
	}

	planResp, err := p.callPlan(ctx, inc, investigateResp.Summary)
	if err != nil {
		p.escalate(ctx, inc, "replanning_failed")
		return err
	}

	inc, err = p.transition(ctx, inc, models.StatusExecuting)
	if err != nil {
		return err
	}

	execResp, err := p.callExecute(ctx, inc, planResp.Actions)
	if err != nil {
		// Execution failure mid-reflection is a distinct cause from a
		// verification failure; recurse with its own failure analysis.
		return p.handleReflectionLoop(ctx, inc, fmt.Sprintf("Execution failed: %s", err.Error()))
	}
	inc.RemediationPlan = summarizeActions(planResp.Actions)
	_ = execResp

	inc, err = p.transition(ctx, inc, models.StatusVerifying)
	if err != nil {
		return err
	}

	verifyResp, err := p.callVerify(ctx, inc)
	if err != nil {
		p.escalate(ctx, inc, "verification_failed")
		return err
	}

	if verifyResp.Passed {
		return p.resolve(ctx, inc, verifyResp)
	}

	// The next call's entry guard decides whether another round is allowed;
	// recursing unconditionally here keeps that single check authoritative.
	return p.handleReflectionLoop(ctx, inc, verifyResp.FailureAnalysis)
}
