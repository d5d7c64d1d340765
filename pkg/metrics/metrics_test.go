package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGet_ReturnsSingleton(t *testing.T) {
	a := Get()
	b := Get()
	assert.Same(t, a, b)
}

func TestSetBreakerState_UpdatesGauge(t *testing.T) {
	m := Get()
	m.SetBreakerState("pagerduty", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("pagerduty")))
}

func TestCounters_Increment(t *testing.T) {
	m := Get()
	before := testutil.ToFloat64(m.GitHubEventsTotal.WithLabelValues("push"))
	m.GitHubEventsTotal.WithLabelValues("push").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(m.GitHubEventsTotal.WithLabelValues("push")))
}

func TestHistograms_AreCollectable(t *testing.T) {
	m := Get()
	m.TimeToDetect.Observe(12.5)
	m.TimeToInvestigate.Observe(30)
	m.TimeToRemediate.Observe(90)
	m.TimeToVerify.Observe(15)

	assert.Equal(t, 1, testutil.CollectAndCount(m.TimeToDetect))
}
