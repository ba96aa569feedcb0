package models

import (
	"fmt"
	"maps"
	"time"

	activity "focuswatch/internal/activity/models"
)

// Severity classifies how urgent a suggestion is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IsValid reports whether s is one of the known severities.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Rank orders severities: low=1, medium=2, high=3. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// Evidence references one event (or a summary of several) that justifies a candidate.
type Evidence struct {
	EventID   string    `json:"event_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type,omitempty"`
	Summary   string    `json:"summary,omitempty"`
}

// EvidenceFor builds an evidence entry pointing at e.
func EvidenceFor(e activity.Event) Evidence {
	return Evidence{EventID: e.ID, Timestamp: e.Timestamp, Type: string(e.Type)}
}

// Candidate is an unranked suggestion emitted by a rule.
type Candidate struct {
	RuleID          string     `json:"rule_id"`
	UserID          string     `json:"user_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Severity        Severity   `json:"severity"`
	Confidence      float64    `json:"confidence"`
	Evidence        []Evidence `json:"evidence"`
	SuggestedAction string     `json:"suggested_action"`
}

// NewestEvidence returns the latest evidence timestamp, or zero when there is none.
func (c Candidate) NewestEvidence() time.Time {
	var newest time.Time
	for _, ev := range c.Evidence {
		if ev.Timestamp.After(newest) {
			newest = ev.Timestamp
		}
	}
	return newest
}

// Window is an ascending slice of one user's events over [Start, End).
type Window struct {
	UserID string
	Start  time.Time
	End    time.Time
	Events []activity.Event
}

// Newest returns the last event of the window.
func (w Window) Newest() (activity.Event, bool) {
	if len(w.Events) == 0 {
		return activity.Event{}, false
	}
	return w.Events[len(w.Events)-1], true
}

// History is per-user statistical state carried across evaluations.
// Buckets maps the Unix second of an hour boundary to the event count in that hour.
type History struct {
	UserID    string        `json:"user_id"`
	Buckets   map[int64]int `json:"buckets"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func NewHistory(userID string) *History {
	return &History{UserID: userID, Buckets: make(map[int64]int)}
}

// Clone returns a deep copy; a nil receiver yields nil.
func (h *History) Clone() *History {
	if h == nil {
		return nil
	}
	out := *h
	out.Buckets = maps.Clone(h.Buckets)
	if out.Buckets == nil {
		out.Buckets = make(map[int64]int)
	}
	return &out
}

// Diagnostic records a rule that failed during evaluation. It never aborts
// evaluation of the other rules.
type Diagnostic struct {
	RuleID   string `json:"rule_id"`
	Err      error  `json:"-"`
	Panicked bool   `json:"panicked"`
}

func (d Diagnostic) Error() string {
	if d.Panicked {
		return fmt.Sprintf("rule %s panicked: %v", d.RuleID, d.Err)
	}
	return fmt.Sprintf("rule %s failed: %v", d.RuleID, d.Err)
}

func (d Diagnostic) Unwrap() error {
	return d.Err
}

// Descriptor describes a registered rule for inspection.
type Descriptor struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Clamp01 bounds v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
