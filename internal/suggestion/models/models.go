package models

import (
	"time"

	rules "focuswatch/internal/rules/models"
)

// State is the lifecycle state of a suggestion as seen by its user.
type State string

const (
	StatePending  State = "pending"
	StateAccepted State = "accepted"
	StateRejected State = "rejected"
	StateArchived State = "archived"
)

// Features are the ranking inputs extracted from a candidate.
type Features struct {
	Raw        float64 `json:"raw"`
	Acceptance float64 `json:"acceptance"`
	HasHistory bool    `json:"has_history"`
	Recency    float64 `json:"recency"`
	Severity   float64 `json:"severity"`
}

// Suggestion is a ranked, confidence-scored candidate ready for presentation.
type Suggestion struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	RuleID          string           `json:"rule_id"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Severity        rules.Severity   `json:"severity"`
	Confidence      float64          `json:"confidence"`
	RawConfidence   float64          `json:"raw_confidence"`
	Features        Features         `json:"features"`
	Evidence        []rules.Evidence `json:"evidence"`
	SuggestedAction string           `json:"suggested_action"`
	State           State            `json:"state"`
	AutoExecutable  bool             `json:"auto_executable"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Query selects the window suggestions are computed over.
type Query struct {
	UserID string
	Since  time.Time
	Until  time.Time
}

// Result is a ranked list. Stale is set when the list is a cached copy served
// because the event store was unavailable.
type Result struct {
	UserID      string       `json:"user_id"`
	Suggestions []Suggestion `json:"suggestions"`
	Stale       bool         `json:"stale"`
	GeneratedAt time.Time    `json:"generated_at"`
	Diagnostics []string     `json:"diagnostics,omitempty"`
}
