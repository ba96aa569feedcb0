package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the suggestion query path.
type Metrics struct {
	// Queries by outcome: fresh, stale, unavailable, invalid
	Queries *prometheus.CounterVec

	PipelineDuration prometheus.Histogram

	SuggestionsReturned prometheus.Histogram

	// Rule evaluation diagnostics surfaced to callers
	Diagnostics *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Queries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "focuswatch_suggestion_queries_total",
			Help: "Suggestion queries by outcome",
		}, []string{"outcome"}),

		PipelineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "focuswatch_suggestion_pipeline_duration_seconds",
			Help:    "Time to load, evaluate and rank a suggestion window",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		SuggestionsReturned: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "focuswatch_suggestions_returned",
			Help:    "Number of suggestions per fresh query",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		}),

		Diagnostics: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "focuswatch_suggestion_diagnostics_total",
			Help: "Rule diagnostics attached to suggestion queries",
		}, []string{"rule_id"}),
	}
}

func (m *Metrics) IncrementQuery(outcome string) {
	if m != nil {
		m.Queries.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObservePipeline(d time.Duration, returned int) {
	if m == nil {
		return
	}
	m.PipelineDuration.Observe(d.Seconds())
	m.SuggestionsReturned.Observe(float64(returned))
}

func (m *Metrics) IncrementDiagnostic(ruleID string) {
	if m != nil {
		m.Diagnostics.WithLabelValues(ruleID).Inc()
	}
}
