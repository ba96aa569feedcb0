package detectors

import (
	"fmt"
	"math"
	"slices"
	"time"

	activity "focuswatch/internal/activity/models"
	"focuswatch/internal/rules/models"
)

const AnomalyID = "activity_anomaly"

// Anomaly compares event volume in the last hour against hourly buckets
// accumulated in History over the Baseline period.
type Anomaly struct {
	Baseline   time.Duration `yaml:"baseline"`
	MinBuckets int           `yaml:"min_buckets"`
	Sigma      float64       `yaml:"sigma"`
}

func DefaultAnomaly() Anomaly {
	return Anomaly{Baseline: 7 * 24 * time.Hour, MinBuckets: 24, Sigma: 3}
}

func (r Anomaly) ID() string { return AnomalyID }

func (r Anomaly) Description() string {
	return fmt.Sprintf("last-hour activity more than %.1f standard deviations from the %s baseline", r.Sigma, r.Baseline)
}

func (r Anomaly) Detect(w models.Window, h *models.History) ([]models.Candidate, error) {
	if h == nil {
		return nil, fmt.Errorf("history is required")
	}
	end := w.End
	if end.IsZero() {
		newest, ok := w.Newest()
		if !ok {
			return nil, nil
		}
		end = newest.Timestamp.Add(time.Nanosecond)
	}
	mergeBuckets(h, w, end, r.Baseline)

	recentStart := end.Add(-time.Hour)
	var recent []activity.Event
	for _, e := range w.Events {
		if !e.Timestamp.Before(recentStart) && e.Timestamp.Before(end) {
			recent = append(recent, e)
		}
	}

	var baseline []float64
	for hour, count := range h.Buckets {
		if !time.Unix(hour, 0).Add(time.Hour).After(recentStart) {
			baseline = append(baseline, float64(count))
		}
	}
	if len(baseline) < r.MinBuckets || len(baseline) == 0 {
		return nil, nil
	}
	slices.Sort(baseline)
	mean, std := meanStd(baseline)
	// A perfectly flat baseline still has a one-event noise floor.
	std = math.Max(std, 1)
	z := (float64(len(recent)) - mean) / std
	if math.Abs(z) <= r.Sigma {
		return nil, nil
	}

	c := models.Candidate{
		RuleID:     AnomalyID,
		Confidence: models.Clamp01(math.Abs(z) / (2 * r.Sigma)),
	}
	if z > 0 {
		c.Title = "Unusual activity spike"
		c.Description = fmt.Sprintf("%d events in the last hour against a typical %.1f. Sustained spikes are a burnout risk.", len(recent), mean)
		c.SuggestedAction = "Take a short break and review what is driving the extra load."
		c.Severity = models.SeverityMedium
		if z >= 2*r.Sigma {
			c.Severity = models.SeverityHigh
		}
	} else {
		c.Title = "Unusual drop in activity"
		c.Description = fmt.Sprintf("%d events in the last hour against a typical %.1f.", len(recent), mean)
		c.SuggestedAction = "Check whether you are blocked or disengaged and pick one small next step."
		c.Severity = models.SeverityMedium
	}
	c.Evidence = []models.Evidence{{
		Timestamp: recentStart,
		Summary:   fmt.Sprintf("%d events, baseline mean %.1f stddev %.1f over %d hours, z=%.2f", len(recent), mean, std, len(baseline), z),
	}}
	for _, e := range lastN(recent, 5) {
		c.Evidence = append(c.Evidence, models.EvidenceFor(e))
	}
	return []models.Candidate{c}, nil
}

// mergeBuckets overwrites every hour fully covered by the window with its
// event count, so re-evaluating the same window is idempotent, then drops
// buckets older than the baseline.
func mergeBuckets(h *models.History, w models.Window, end time.Time, baseline time.Duration) {
	if h.Buckets == nil {
		h.Buckets = make(map[int64]int)
	}
	start := w.Start
	if start.IsZero() && len(w.Events) > 0 {
		start = w.Events[0].Timestamp
	}
	first := start.Truncate(time.Hour)
	if first.Before(start) {
		first = first.Add(time.Hour)
	}
	counts := make(map[int64]int)
	for _, e := range w.Events {
		counts[e.Timestamp.Truncate(time.Hour).Unix()]++
	}
	for hour := first; !hour.Add(time.Hour).After(end); hour = hour.Add(time.Hour) {
		h.Buckets[hour.Unix()] = counts[hour.Unix()]
	}

	horizon := end.Add(-baseline).Unix()
	for hour := range h.Buckets {
		if hour < horizon {
			delete(h.Buckets, hour)
		}
	}
	h.UpdatedAt = end.UTC()
}

func meanStd(xs []float64) (mean, std float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		std += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(std / float64(len(xs)))
}

func lastN(events []activity.Event, n int) []activity.Event {
	if len(events) <= n {
		return events
	}
	return events[len(events)-n:]
}
