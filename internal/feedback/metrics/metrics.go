package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the feedback loop.
type Metrics struct {
	ActionsRecorded *prometheus.CounterVec
	ActionConflicts prometheus.Counter
	ActionsPruned   prometheus.Counter
	AuditFailures   prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		ActionsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "focuswatch_feedback_actions_total",
			Help: "Feedback actions recorded, by kind and rule",
		}, []string{"kind", "rule_id"}),
		ActionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "focuswatch_feedback_conflicts_total",
			Help: "Actions rejected because the suggestion already had one",
		}),
		ActionsPruned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "focuswatch_feedback_actions_pruned_total",
			Help: "Actions removed by retention",
		}),
		AuditFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "focuswatch_feedback_audit_failures_total",
			Help: "Actions stored without their audit event",
		}),
	}
}

func (m *Metrics) IncrementRecorded(kind, ruleID string) {
	if m == nil {
		return
	}
	m.ActionsRecorded.WithLabelValues(kind, ruleID).Inc()
}

func (m *Metrics) IncrementConflict() {
	if m == nil {
		return
	}
	m.ActionConflicts.Inc()
}

func (m *Metrics) AddPruned(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ActionsPruned.Add(float64(n))
}

func (m *Metrics) IncrementAuditFailure() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}
