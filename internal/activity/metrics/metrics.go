package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for event ingestion and retention.
type Metrics struct {
	// Ingest outcomes: stored, duplicate, invalid, rate_limited, failed
	IngestOutcome *prometheus.CounterVec

	// Store call latency by operation
	StoreLatency *prometheus.HistogramVec

	StoreErrors *prometheus.CounterVec

	// 1 while the store breaker is open
	BreakerOpen prometheus.Gauge

	EventsPruned prometheus.Counter
}

// New creates a new Metrics instance with activity metrics registered.
func New() *Metrics {
	return &Metrics{
		IngestOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "focuswatch_ingest_events_total",
			Help: "Ingested events by outcome",
		}, []string{"outcome"}),

		StoreLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "focuswatch_event_store_duration_seconds",
			Help:    "Event store call latency by operation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op"}),

		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "focuswatch_event_store_errors_total",
			Help: "Event store failures by operation",
		}, []string{"op"}),

		BreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "focuswatch_event_store_breaker_open",
			Help: "Event store circuit breaker state (0=closed, 1=open)",
		}),

		EventsPruned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "focuswatch_events_pruned_total",
			Help: "Events removed by retention pruning",
		}),
	}
}

func (m *Metrics) IncrementOutcome(outcome string, n int) {
	if m != nil && n > 0 {
		m.IngestOutcome.WithLabelValues(outcome).Add(float64(n))
	}
}

func (m *Metrics) ObserveStoreLatency(op string, d time.Duration) {
	if m != nil {
		m.StoreLatency.WithLabelValues(op).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementStoreError(op string) {
	if m != nil {
		m.StoreErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
	} else {
		m.BreakerOpen.Set(0)
	}
}

func (m *Metrics) AddPruned(n int) {
	if m != nil && n > 0 {
		m.EventsPruned.Add(float64(n))
	}
}
