package detectors

import (
	"fmt"
	"time"

	"focuswatch/internal/rules/models"
)

const InterruptionsID = "interruptions"

// Interruptions flags windows dominated by short focus sessions. The trailing
// open session is not judged because it has not ended yet.
type Interruptions struct {
	IdleGap       time.Duration `yaml:"idle_gap"`
	MinSession    time.Duration `yaml:"min_session"`
	MinSessions   int           `yaml:"min_sessions"`
	ShortFraction float64       `yaml:"short_fraction"`
}

func DefaultInterruptions() Interruptions {
	return Interruptions{IdleGap: 5 * time.Minute, MinSession: 5 * time.Minute, MinSessions: 4, ShortFraction: 0.6}
}

func (r Interruptions) ID() string { return InterruptionsID }

func (r Interruptions) Description() string {
	return fmt.Sprintf("more than %.0f%% of focus sessions shorter than %s", r.ShortFraction*100, r.MinSession)
}

func (r Interruptions) Detect(w models.Window, _ *models.History) ([]models.Candidate, error) {
	var closed, short []session
	for _, s := range buildSessions(w.Events, r.IdleGap) {
		if s.Open {
			continue
		}
		closed = append(closed, s)
		if s.Duration() < r.MinSession {
			short = append(short, s)
		}
	}
	if len(closed) < r.MinSessions || len(closed) == 0 {
		return nil, nil
	}
	fraction := float64(len(short)) / float64(len(closed))
	if fraction <= r.ShortFraction {
		return nil, nil
	}

	evidence := make([]models.Evidence, 0, len(short))
	for _, s := range short {
		ev := models.EvidenceFor(s.Events[0])
		ev.Summary = fmt.Sprintf("%s for %s", appOr(s.App, "session"), s.Duration().Round(time.Second))
		evidence = append(evidence, ev)
	}

	return []models.Candidate{{
		RuleID:          InterruptionsID,
		Title:           "Frequent short interruptions",
		Description:     fmt.Sprintf("%d of your last %d focus sessions lasted under %s.", len(short), len(closed), humanize(r.MinSession)),
		Severity:        models.SeverityMedium,
		Confidence:      fraction,
		Evidence:        evidence,
		SuggestedAction: "Consolidate work into a 25 to 50 minute session and silence notifications.",
	}}, nil
}

func appOr(app, fallback string) string {
	if app == "" {
		return fallback
	}
	return app
}
