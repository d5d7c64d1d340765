// Package verifier implements post-remediation health verification: stabilization
// wait, parallel health checks under a deadline, and dual-threshold
// evaluation against baselines.
package verifier

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arome3/vigil/pkg/contract"
	"github.com/arome3/vigil/pkg/logging"
	"github.com/arome3/vigil/pkg/models"
)

var log = logging.Component("verifier")

const (
	DefaultStabilizationWait    = 10 * time.Second
	DefaultDeadline             = 50 * time.Second
	DefaultHealthScoreThreshold = 0.8
)

// ServiceMetrics is the parsed, columnar health-comparison result for one
// service.
type ServiceMetrics struct {
	ObservedValue  float64
	ErrorRate      float64
	Throughput     float64
	BaselineVerdict bool // whether the health-comparison tool judged this in-baseline
}

// BaselineSource fetches the statistical baseline for one service.
type BaselineSource interface {
	Baseline(ctx context.Context, serviceName string) (*models.Baseline, error)
}

// HealthChecker runs the health-comparison tool for one service against its
// baseline, returning the parsed columnar metrics. Missing columns are the
// HealthChecker's concern to warn on, not the Verifier's to fail on.
type HealthChecker interface {
	Check(ctx context.Context, serviceName string, baseline *models.Baseline) (ServiceMetrics, error)
}

// Verifier runs runHealthChecks and evaluates success criteria.
type Verifier struct {
	baselines      BaselineSource
	healthChecker  HealthChecker
	stabilization  time.Duration
	deadline       time.Duration
	scoreThreshold float64
	sleep          func(ctx context.Context, d time.Duration)
}

func New(baselines BaselineSource, healthChecker HealthChecker, stabilization, deadline time.Duration, scoreThreshold float64) *Verifier {
	if deadline == 0 {
		deadline = DefaultDeadline
	}
	if scoreThreshold == 0 {
		scoreThreshold = DefaultHealthScoreThreshold
	}
	return &Verifier{
		baselines:      baselines,
		healthChecker:  healthChecker,
		stabilization:  stabilization,
		deadline:       deadline,
		scoreThreshold: scoreThreshold,
		sleep:          defaultSleep,
	}
}

func defaultSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// VerifyResolution runs the full verify_resolution flow. reflectionCount
// must be captured by the caller before the deadline race begins, so a
// degraded response still reports the correct iteration.
func (v *Verifier) VerifyResolution(ctx context.Context, req *contract.VerifyRequest, reflectionCount int) *contract.VerifyResponse {
	iteration := reflectionCount + 1

	if err := contract.ValidateVerifyRequest(req); err != nil {
		return degraded(fmt.Sprintf("Verification error: %s", err.Error()), iteration)
	}

	v.waitForStabilization(ctx)

	deadlineCtx, cancel := context.WithTimeout(ctx, v.deadline)
	defer cancel()

	resp, err := v.runHealthChecks(deadlineCtx, req, iteration)
	if err != nil {
		if deadlineCtx.Err() != nil {
			return degraded(fmt.Sprintf("Verification deadline exceeded after %dms", v.deadline.Milliseconds()), iteration)
		}
		return degraded(fmt.Sprintf("Verification error: %s", err.Error()), iteration)
	}

	if err := contract.ValidateVerifyResponse(resp); err != nil {
		log.Warn("verifier produced a response that failed self-validation", "error", err)
		return degraded(fmt.Sprintf("Verification error: %s", err.Error()), iteration)
	}
	return resp
}

func (v *Verifier) waitForStabilization(ctx context.Context) {
	if v.stabilization <= 0 {
		return
	}
	log.Info("waiting for stabilization", "seconds", v.stabilization.Seconds())
	v.sleep(ctx, v.stabilization)
}

func (v *Verifier) runHealthChecks(ctx context.Context, req *contract.VerifyRequest, iteration int) (*contract.VerifyResponse, error) {
	baselines := make(map[string]*models.Baseline, len(req.AffectedServices))
	metrics := make(map[string]ServiceMetrics, len(req.AffectedServices))

	g, gctx := errgroup.WithContext(ctx)
	type baselineResult struct {
		service  string
		baseline *models.Baseline
	}
	baselineResults := make([]baselineResult, len(req.AffectedServices))
	for i, svc := range req.AffectedServices {
		i, svc := i, svc
		g.Go(func() error {
			baseline, err := v.baselines.Baseline(gctx, svc)
			if err != nil {
				log.Warn("baseline fetch failed, proceeding without it", "service", svc, "error", err)
				baselineResults[i] = baselineResult{service: svc}
				return nil // allSettled semantics: a failed fetch doesn't abort the group
			}
			baselineResults[i] = baselineResult{service: svc, baseline: baseline}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, r := range baselineResults {
		baselines[r.service] = r.baseline
	}

	g2, gctx2 := errgroup.WithContext(ctx)
	metricsResults := make([]struct {
		service string
		metrics ServiceMetrics
	}, len(req.AffectedServices))
	for i, svc := range req.AffectedServices {
		i, svc := i, svc
		g2.Go(func() error {
			m, err := v.healthChecker.Check(gctx2, svc, baselines[svc])
			if err != nil {
				return fmt.Errorf("health check for %s: %w", svc, err)
			}
			metricsResults[i] = struct {
				service string
				metrics ServiceMetrics
			}{service: svc, metrics: m}
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		return nil, err
	}
	for _, r := range metricsResults {
		metrics[r.service] = r.metrics
	}

	var results []models.CriterionResult
	passedCount := 0
	var failures []string

	for _, criterion := range req.SuccessCriteria {
		m, ok := metrics[criterion.ServiceName]
		if !ok {
			failures = append(failures, fmt.Sprintf("%s on %s: no metrics collected", criterion.Metric, criterion.ServiceName))
			results = append(results, models.CriterionResult{Criterion: criterion, Passed: false})
			continue
		}

		thresholdPass := criterion.Operator.Evaluate(m.ObservedValue, criterion.Threshold)
		passed := thresholdPass && m.BaselineVerdict

		result := models.CriterionResult{
			Criterion:     criterion,
			ObservedValue: m.ObservedValue,
			ThresholdPass: thresholdPass,
			BaselinePass:  m.BaselineVerdict,
			Passed:        passed,
		}
		results = append(results, result)

		if passed {
			passedCount++
		} else {
			baselineNote := "unknown"
			if baseline, ok := baselines[criterion.ServiceName]; ok && baseline != nil {
				baselineNote = fmt.Sprintf("avg=%.2f stddev=%.2f", baseline.AvgValue, baseline.StddevValue)
			}
			failures = append(failures, fmt.Sprintf(
				"%s on %s: observed=%.2f threshold=%v(%s) baseline=%s",
				criterion.Metric, criterion.ServiceName, m.ObservedValue, criterion.Threshold, criterion.Operator, baselineNote,
			))
		}
	}

	total := len(req.SuccessCriteria)
	score := 0.0
	if total > 0 {
		score = float64(passedCount) / float64(total)
	}
	overallPassed := score >= v.scoreThreshold

	resp := &contract.VerifyResponse{
		Passed:          overallPassed,
		HealthScore:     score,
		CriteriaResults: results,
		Iteration:       iteration,
	}
	if !overallPassed {
		resp.FailureAnalysis = "Health check failed: " + joinFailures(failures)
	}
	return resp, nil
}

func degraded(failureAnalysis string, iteration int) *contract.VerifyResponse {
	return &contract.VerifyResponse{
		Passed:          false,
		HealthScore:     0,
		CriteriaResults: nil,
		FailureAnalysis: failureAnalysis,
		Iteration:       iteration,
	}
}

func joinFailures(failures []string) string {
	out := ""
	for i, f := range failures {
		if i > 0 {
			out += "; "
		}
		out += f
	}
	return out
}
