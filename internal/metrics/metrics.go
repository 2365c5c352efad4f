package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "parkbeat"

// Metrics groups the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	LockAcquisitions *prometheus.CounterVec
	DedupDecisions   *prometheus.CounterVec
	StageOutcomes    *prometheus.CounterVec
	Batches          *prometheus.CounterVec
	AgentLatency     *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LockAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquisitions_total",
			Help:      "Lock acquisition attempts by scope and result.",
		}, []string{"scope", "result"}),
		DedupDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_decisions_total",
			Help:      "Duplicate command gate decisions by operation and result.",
		}, []string{"operation", "result"}),
		StageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_outcomes_total",
			Help:      "Per-suggestion pipeline stage outcomes.",
		}, []string{"stage", "outcome"}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestion_batches_total",
			Help:      "Suggestion generation runs by outcome.",
		}, []string{"outcome"}),
		AgentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_call_duration_seconds",
			Help:      "Latency of vision and image agent calls.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"agent", "operation"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.LockAcquisitions,
			m.DedupDecisions,
			m.StageOutcomes,
			m.Batches,
			m.AgentLatency,
		)
	}

	return m
}

func (m *Metrics) Lock(scope string, acquired bool) {
	if m == nil {
		return
	}
	result := "acquired"
	if !acquired {
		result = "contended"
	}
	m.LockAcquisitions.WithLabelValues(scope, result).Inc()
}

func (m *Metrics) Dedup(operation string, proceed bool) {
	if m == nil {
		return
	}
	result := "proceed"
	if !proceed {
		result = "suppressed"
	}
	m.DedupDecisions.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) Stage(stage, outcome string) {
	if m == nil {
		return
	}
	m.StageOutcomes.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) Batch(outcome string) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(outcome).Inc()
}

// ObserveAgent records the time since start. Use with defer.
func (m *Metrics) ObserveAgent(agent, operation string, start time.Time) {
	if m == nil {
		return
	}
	m.AgentLatency.WithLabelValues(agent, operation).Observe(time.Since(start).Seconds())
}
