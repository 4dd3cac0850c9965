package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the governance engine.
// Pass to components that need to record metrics.
type Metrics struct {
	DecisionsTotal    *prometheus.CounterVec
	DecisionDuration  prometheus.Histogram
	SinkFailuresTotal prometheus.Counter
	OutcomesTotal     *prometheus.CounterVec
	PendingApprovals  prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "enact",
				Name:      "decisions_total",
				Help:      "Total governance decisions produced",
			},
			[]string{"allow", "source"}, // allow=true/false, source=pipeline stage
		),
		DecisionDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "enact",
				Name:      "decision_duration_seconds",
				Help:      "Time spent evaluating a request",
				Buckets:   prometheus.DefBuckets,
			},
		),
		SinkFailuresTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "enact",
				Name:      "audit_sink_failures_total",
				Help:      "Total audit sink delivery failures",
			},
		),
		OutcomesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "enact",
				Name:      "tool_outcomes_total",
				Help:      "Tool execution outcomes reported to the breaker",
			},
			[]string{"result"}, // result=success/failure
		),
		PendingApprovals: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "enact",
				Name:      "pending_approvals",
				Help:      "Approval tickets currently awaiting a decision",
			},
		),
	}
}
