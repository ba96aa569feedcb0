package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for rule evaluation.
type Metrics struct {
	CandidatesEmitted *prometheus.CounterVec
	RuleFailures      *prometheus.CounterVec
	EvaluationLatency prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		CandidatesEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "focuswatch_rule_candidates_total",
			Help: "Candidates emitted, by rule",
		}, []string{"rule_id"}),
		RuleFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "focuswatch_rule_failures_total",
			Help: "Rule evaluations that returned an error or panicked, by rule",
		}, []string{"rule_id"}),
		EvaluationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "focuswatch_rule_evaluation_duration_seconds",
			Help:    "Time to evaluate every registered rule against one window",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		}),
	}
}

func (m *Metrics) AddCandidates(ruleID string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CandidatesEmitted.WithLabelValues(ruleID).Add(float64(n))
}

func (m *Metrics) IncrementFailure(ruleID string) {
	if m == nil {
		return
	}
	m.RuleFailures.WithLabelValues(ruleID).Inc()
}

func (m *Metrics) ObserveEvaluation(seconds float64) {
	if m == nil {
		return
	}
	m.EvaluationLatency.Observe(seconds)
}
