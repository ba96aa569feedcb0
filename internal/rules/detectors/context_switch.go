package detectors

import (
	"fmt"
	"time"

	activity "focuswatch/internal/activity/models"
	"focuswatch/internal/rules/models"
)

const ContextSwitchID = "context_switch"

// ContextSwitch flags frequent focus transitions in the trailing Window that
// ends at the newest event.
type ContextSwitch struct {
	Window     time.Duration `yaml:"window"`
	Threshold  int           `yaml:"threshold"`
	HighFactor float64       `yaml:"high_factor"`
}

func DefaultContextSwitch() ContextSwitch {
	return ContextSwitch{Window: 10 * time.Minute, Threshold: 12, HighFactor: 1.5}
}

func (r ContextSwitch) ID() string { return ContextSwitchID }

func (r ContextSwitch) Description() string {
	return fmt.Sprintf("more than %d focus changes within %s", r.Threshold, r.Window)
}

func (r ContextSwitch) Detect(w models.Window, _ *models.History) ([]models.Candidate, error) {
	newest, ok := w.Newest()
	if !ok || r.Threshold <= 0 {
		return nil, nil
	}
	cutoff := newest.Timestamp.Add(-r.Window)

	var transitions []activity.Event
	for _, e := range w.Events {
		if e.Type.IsFocusTransition() && !e.Timestamp.Before(cutoff) {
			transitions = append(transitions, e)
		}
	}
	count := len(transitions)
	if count <= r.Threshold {
		return nil, nil
	}

	severity := models.SeverityMedium
	if float64(count) >= float64(r.Threshold)*r.HighFactor {
		severity = models.SeverityHigh
	}
	evidence := make([]models.Evidence, 0, count)
	for _, e := range transitions {
		evidence = append(evidence, models.EvidenceFor(e))
	}

	return []models.Candidate{{
		RuleID:          ContextSwitchID,
		Title:           "High context switching",
		Description:     fmt.Sprintf("You switched focus %d times in the last %s.", count, humanize(r.Window)),
		Severity:        severity,
		Confidence:      models.Clamp01(float64(count-r.Threshold) / float64(r.Threshold)),
		Evidence:        evidence,
		SuggestedAction: "Batch similar tasks or block out focused time.",
	}}, nil
}

// humanize renders whole-minute durations as "10 minutes".
func humanize(d time.Duration) string {
	if d%time.Hour == 0 && d >= time.Hour {
		h := int(d / time.Hour)
		if h == 1 {
			return "hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
	return d.String()
}
