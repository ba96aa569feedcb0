package models

import (
	"time"

	dErrors "focuswatch/pkg/domain-errors"
)

// Kind is the user's verdict on a suggestion.
type Kind string

const (
	KindAccept Kind = "accept"
	KindReject Kind = "reject"
)

// ParseKind validates a raw action value. Unknown values are validation errors.
func ParseKind(v string) (Kind, error) {
	switch Kind(v) {
	case KindAccept, KindReject:
		return Kind(v), nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "action must be one of accept, reject")
}

// Action is a terminal verdict. At most one exists per (UserID, SuggestionID).
type Action struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	SuggestionID string    `json:"suggestion_id"`
	RuleID       string    `json:"rule_id"`
	Kind         Kind      `json:"action"`
	Timestamp    time.Time `json:"timestamp"`
}

// Counts are the incremental per-rule counters behind the acceptance rate.
type Counts struct {
	RuleID   string `json:"rule_id"`
	Accepted int64  `json:"accepted"`
	Rejected int64  `json:"rejected"`
}

// Rate returns accepted / (accepted + rejected); ok is false without feedback.
func (c Counts) Rate() (rate float64, ok bool) {
	total := c.Accepted + c.Rejected
	if total <= 0 {
		return 0, false
	}
	return float64(c.Accepted) / float64(total), true
}

// Add applies one action to the counters.
func (c *Counts) Add(kind Kind) {
	switch kind {
	case KindAccept:
		c.Accepted++
	case KindReject:
		c.Rejected++
	}
}

// RecordRequest is the validated input of a record operation.
type RecordRequest struct {
	UserID       string
	SuggestionID string
	RuleID       string
	Action       string
}
