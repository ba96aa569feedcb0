package detectors

import (
	"fmt"
	"time"

	"focuswatch/internal/rules/models"
)

const DeepWorkID = "deep_work"

// DeepWork affirms the longest focus session when it was long and mostly
// free of notifications.
type DeepWork struct {
	IdleGap          time.Duration `yaml:"idle_gap"`
	MinDuration      time.Duration `yaml:"min_duration"`
	MaxInterruptions int           `yaml:"max_interruptions"`
}

func DefaultDeepWork() DeepWork {
	return DeepWork{IdleGap: 5 * time.Minute, MinDuration: 45 * time.Minute, MaxInterruptions: 2}
}

func (r DeepWork) ID() string { return DeepWorkID }

func (r DeepWork) Description() string {
	return fmt.Sprintf("focus session of at least %s with at most %d notifications", r.MinDuration, r.MaxInterruptions)
}

func (r DeepWork) Detect(w models.Window, _ *models.History) ([]models.Candidate, error) {
	var best *session
	sessions := buildSessions(w.Events, r.IdleGap)
	for i := range sessions {
		s := &sessions[i]
		if s.Notifications > r.MaxInterruptions || s.Duration() < r.MinDuration {
			continue
		}
		if best == nil || s.Duration() > best.Duration() {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}

	first := models.EvidenceFor(best.Events[0])
	first.Summary = fmt.Sprintf("focused on %s for %s", appOr(best.App, "one task"), best.Duration().Round(time.Minute))
	evidence := []models.Evidence{first}
	if last := best.Events[len(best.Events)-1]; last.ID != best.Events[0].ID {
		evidence = append(evidence, models.EvidenceFor(last))
	}

	confidence := 0.0
	if r.MinDuration > 0 {
		confidence = float64(best.Duration()) / float64(2*r.MinDuration)
	}
	return []models.Candidate{{
		RuleID:          DeepWorkID,
		Title:           "Deep work session",
		Description:     fmt.Sprintf("You stayed focused for %s with %d notifications.", best.Duration().Round(time.Minute), best.Notifications),
		Severity:        models.SeverityLow,
		Confidence:      models.Clamp01(confidence),
		Evidence:        evidence,
		SuggestedAction: "Protect this time slot in your calendar for future focus work.",
	}}, nil
}
