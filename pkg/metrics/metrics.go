// Package metrics exposes the process-wide Prometheus registry for
// incident-lifecycle phase timings, circuit-breaker state, and webhook
// ingestion counters, all scraped from the webhook server's /metrics route.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector Vigil registers. Use Get() rather than
// constructing one directly so every package shares a single registration.
type Metrics struct {
	TimeToDetect      prometheus.Histogram
	TimeToInvestigate prometheus.Histogram
	TimeToRemediate   prometheus.Histogram
	TimeToVerify      prometheus.Histogram

	CircuitBreakerState *prometheus.GaugeVec

	WebhookRequestsTotal   *prometheus.CounterVec
	GitHubEventsTotal      *prometheus.CounterVec
	ApprovalCallbacksTotal *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton Metrics instance, registering its collectors
// with the default Prometheus registry on first call.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	phaseBuckets := []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}

	m := &Metrics{
		TimeToDetect: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vigil",
			Name:      "time_to_detect_seconds",
			Help:      "Time from alert ingestion to incident creation.",
			Buckets:   phaseBuckets,
		}),
		TimeToInvestigate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vigil",
			Name:      "time_to_investigate_seconds",
			Help:      "Time spent in the investigating/threat_hunting states.",
			Buckets:   phaseBuckets,
		}),
		TimeToRemediate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vigil",
			Name:      "time_to_remediate_seconds",
			Help:      "Time spent in the planning/awaiting_approval/executing states.",
			Buckets:   phaseBuckets,
		}),
		TimeToVerify: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vigil",
			Name:      "time_to_verify_seconds",
			Help:      "Time spent in the verifying state, including reflection rounds.",
			Buckets:   phaseBuckets,
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vigil",
			Name:      "circuit_breaker_state",
			Help:      "Current breaker state per integration (0=closed, 1=half-open, 2=open).",
		}, []string{"integration"}),
		WebhookRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "webhook_requests_total",
			Help:      "Total webhook server requests by route and status.",
		}, []string{"route", "status"}),
		GitHubEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "github_events_total",
			Help:      "Total GitHub webhook events indexed, by event type.",
		}, []string{"event_type"}),
		ApprovalCallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "approval_callbacks_total",
			Help:      "Total Slack approval callbacks processed, by outcome.",
		}, []string{"outcome"}),
	}

	prometheus.MustRegister(
		m.TimeToDetect,
		m.TimeToInvestigate,
		m.TimeToRemediate,
		m.TimeToVerify,
		m.CircuitBreakerState,
		m.WebhookRequestsTotal,
		m.GitHubEventsTotal,
		m.ApprovalCallbacksTotal,
	)
	return m
}

// SetBreakerState records a breaker's current gobreaker state (0/1/2 for
// closed/half-open/open) under the given integration name.
func (m *Metrics) SetBreakerState(integration string, state float64) {
	m.CircuitBreakerState.WithLabelValues(integration).Set(state)
}
