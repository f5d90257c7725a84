package companion

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestration collectors. All fields are optional from
// the orchestrator's point of view: a nil *Metrics disables instrumentation.
type Metrics struct {
	TurnsTotal        prometheus.Counter
	TurnDuration      prometheus.Histogram
	SwitchesTotal     prometheus.Counter
	UnlocksTotal      prometheus.Counter
	EvaluatorFailures prometheus.Counter
	CommitFailures    prometheus.Counter
}

// NewMetrics creates and registers the collectors. Pass
// prometheus.DefaultRegisterer for the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companion_turns_total",
			Help: "Committed dialogue turns.",
		}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_turn_duration_seconds",
			Help:    "Orchestration latency per turn.",
			Buckets: prometheus.DefBuckets,
		}),
		SwitchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companion_persona_switches_total",
			Help: "Committed persona switches.",
		}),
		UnlocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companion_fragment_unlocks_total",
			Help: "Committed memory fragment unlocks.",
		}),
		EvaluatorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companion_evaluator_failures_total",
			Help: "Evaluator failures absorbed into turn warnings.",
		}),
		CommitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companion_commit_failures_total",
			Help: "Failed atomic session commits.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.TurnsTotal, m.TurnDuration, m.SwitchesTotal,
			m.UnlocksTotal, m.EvaluatorFailures, m.CommitFailures)
	}
	return m
}
