package verifier

import (
	"context"
	"fmt"

	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/toolexec"
)

const healthCheckToolID = "health_check"

// ToolexecHealthChecker runs the health_check tool definition against the
// storage engine and parses its columnar result into ServiceMetrics.
type ToolexecHealthChecker struct {
	exec *toolexec.Executor
}

func NewToolexecHealthChecker(exec *toolexec.Executor) *ToolexecHealthChecker {
	return &ToolexecHealthChecker{exec: exec}
}

// Check satisfies HealthChecker. The health_check tool is expected to
// return exactly one row of (observed_value, error_rate, throughput,
// baseline_verdict); baseline_verdict is a 0/1 integer since the storage
// engine's query layer has no native boolean column type here.
func (c *ToolexecHealthChecker) Check(ctx context.Context, serviceName string, baseline *models.Baseline) (ServiceMetrics, error) {
	params := map[string]any{"service_name": serviceName}
	if baseline != nil {
		params["avg_value"] = baseline.AvgValue
		params["stddev_value"] = baseline.StddevValue
	}

	rows, err := c.exec.Execute(ctx, healthCheckToolID, params)
	if err != nil {
		return ServiceMetrics{}, fmt.Errorf("health check query for %s: %w", serviceName, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return ServiceMetrics{}, fmt.Errorf("health check query for %s returned no rows", serviceName)
	}

	var m ServiceMetrics
	var verdict int
	if err := rows.Scan(&m.ObservedValue, &m.ErrorRate, &m.Throughput, &verdict); err != nil {
		return ServiceMetrics{}, fmt.Errorf("scan health check result for %s: %w", serviceName, err)
	}
	m.BaselineVerdict = verdict != 0
	return m, rows.Err()
}
