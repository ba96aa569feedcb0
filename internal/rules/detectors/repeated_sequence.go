package detectors

import (
	"fmt"
	"strings"

	activity "focuswatch/internal/activity/models"
	"focuswatch/internal/rules/models"
)

const RepeatedSequenceID = "repeated_sequence"

// tokenSep joins n-gram tokens into map keys. It sorts below every printable
// character so lexicographic tie-breaks follow token order.
const tokenSep = "\x00"

// RepeatedSequence finds the best n-gram of type:app tokens that repeats
// without overlap at least MinRepeats times. Raw input telemetry
// (key_press, mouse_move) is excluded from the token stream.
type RepeatedSequence struct {
	MinLength  int `yaml:"min_length"`
	MaxLength  int `yaml:"max_length"`
	MinRepeats int `yaml:"min_repeats"`
}

func DefaultRepeatedSequence() RepeatedSequence {
	return RepeatedSequence{MinLength: 2, MaxLength: 5, MinRepeats: 3}
}

func (r RepeatedSequence) ID() string { return RepeatedSequenceID }

func (r RepeatedSequence) Description() string {
	return fmt.Sprintf("a sequence of %d to %d actions repeated at least %d times", r.MinLength, r.MaxLength, r.MinRepeats)
}

type ngramStat struct {
	key    string
	length int
	count  int
	// lastEnd is the exclusive end index of the last counted occurrence.
	lastEnd int
	starts  []int
}

func (r RepeatedSequence) Detect(w models.Window, _ *models.History) ([]models.Candidate, error) {
	events := make([]activity.Event, 0, len(w.Events))
	tokens := make([]string, 0, len(w.Events))
	for _, e := range w.Events {
		if e.Type == activity.TypeKeyPress || e.Type == activity.TypeMouseMove {
			continue
		}
		events = append(events, e)
		tokens = append(tokens, token(e))
	}

	var best *ngramStat
	for n := max(r.MinLength, 2); n <= r.MaxLength; n++ {
		if n*max(r.MinRepeats, 1) > len(tokens) {
			break
		}
		stats := make(map[string]*ngramStat)
		for i := 0; i+n <= len(tokens); i++ {
			gram := tokens[i : i+n]
			if uniform(gram) {
				continue
			}
			key := strings.Join(gram, tokenSep)
			st, ok := stats[key]
			if !ok {
				st = &ngramStat{key: key, length: n}
				stats[key] = st
			}
			if i < st.lastEnd {
				continue
			}
			st.count++
			st.lastEnd = i + n
			st.starts = append(st.starts, i)
		}
		for _, st := range stats {
			if st.count >= r.MinRepeats && better(st, best) {
				best = st
			}
		}
	}
	if best == nil {
		return nil, nil
	}

	evidence := make([]models.Evidence, 0, len(best.starts))
	for _, start := range best.starts {
		ev := models.EvidenceFor(events[start])
		ev.Summary = fmt.Sprintf("occurrence of %d steps", best.length)
		evidence = append(evidence, ev)
	}
	display := strings.ReplaceAll(best.key, tokenSep, " -> ")

	return []models.Candidate{{
		RuleID:          RepeatedSequenceID,
		Title:           "Repeated manual sequence",
		Description:     fmt.Sprintf("The sequence %s repeated %d times. You could automate this workflow.", display, best.count),
		Severity:        models.SeverityLow,
		Confidence:      models.Clamp01(float64(best.count) / float64(2*max(r.MinRepeats, 1))),
		Evidence:        evidence,
		SuggestedAction: "Record a macro or write a script for this sequence.",
	}}, nil
}

// better prefers longer n-grams, then more frequent, then the
// lexicographically smaller key.
func better(a, b *ngramStat) bool {
	if b == nil {
		return true
	}
	if a.length != b.length {
		return a.length > b.length
	}
	if a.count != b.count {
		return a.count > b.count
	}
	return a.key < b.key
}

func token(e activity.Event) string {
	if app := e.App(); app != "" {
		return string(e.Type) + ":" + app
	}
	return string(e.Type)
}

func uniform(gram []string) bool {
	for _, t := range gram[1:] {
		if t != gram[0] {
			return false
		}
	}
	return true
}
