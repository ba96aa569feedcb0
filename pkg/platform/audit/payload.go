package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the wire form published to the audit topic.
type Payload struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Action    string `json:"action"`
	RuleID    string `json:"rule_id,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Count     int    `json:"count,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Encode serializes an event under the given ID. The category is always
// derived from the action.
func Encode(eventID string, event Event) ([]byte, error) {
	payload := Payload{
		ID:        eventID,
		Category:  string(AuditEvent(event.Action).Category()),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		UserID:    event.UserID,
		Subject:   event.Subject,
		Action:    event.Action,
		RuleID:    event.RuleID,
		Decision:  event.Decision,
		Reason:    event.Reason,
		Count:     event.Count,
		RequestID: event.RequestID,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}
	return b, nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (string, Event, error) {
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", Event{}, fmt.Errorf("unmarshal audit payload: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
	if err != nil {
		return "", Event{}, fmt.Errorf("parse audit timestamp: %w", err)
	}
	return payload.ID, Event{
		Category:  EventCategory(payload.Category),
		Timestamp: ts,
		UserID:    payload.UserID,
		Subject:   payload.Subject,
		Action:    payload.Action,
		RuleID:    payload.RuleID,
		Decision:  payload.Decision,
		Reason:    payload.Reason,
		Count:     payload.Count,
		RequestID: payload.RequestID,
	}, nil
}
