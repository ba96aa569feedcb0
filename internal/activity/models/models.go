package models

import (
	"time"
)

// EventType enumerates the recognized kinds of activity.
type EventType string

const (
	TypeWindowFocus  EventType = "window_focus"
	TypeAppSwitch    EventType = "app_switch"
	TypeFileOpen     EventType = "file_open"
	TypeFileSave     EventType = "file_save"
	TypeCommandRun   EventType = "command_run"
	TypeKeyPress     EventType = "key_press"
	TypeMouseMove    EventType = "mouse_move"
	TypeNotification EventType = "notification"
	TypeIdle         EventType = "idle"
)

// EventTypes lists every recognized type in declaration order.
var EventTypes = []EventType{
	TypeWindowFocus, TypeAppSwitch, TypeFileOpen, TypeFileSave, TypeCommandRun,
	TypeKeyPress, TypeMouseMove, TypeNotification, TypeIdle,
}

// IsValid checks if the type is one of the supported enum values.
func (t EventType) IsValid() bool {
	switch t {
	case TypeWindowFocus, TypeAppSwitch, TypeFileOpen, TypeFileSave, TypeCommandRun,
		TypeKeyPress, TypeMouseMove, TypeNotification, TypeIdle:
		return true
	}
	return false
}

// IsFocusTransition reports whether the event moves focus to another window or app.
func (t EventType) IsFocusTransition() bool {
	return t == TypeWindowFocus || t == TypeAppSwitch
}

// MetaApp is the meta key naming the application an event belongs to.
const MetaApp = "app"

// Event is a normalized activity record. (UserID, ID) is unique.
type Event struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Meta      map[string]string `json:"meta"`
}

// App returns the application name from meta, or "" when absent.
func (e Event) App() string {
	return e.Meta[MetaApp]
}

// Before orders events by (Timestamp, ID).
func (e Event) Before(other Event) bool {
	if !e.Timestamp.Equal(other.Timestamp) {
		return e.Timestamp.Before(other.Timestamp)
	}
	return e.ID < other.ID
}

// RawEvent is an un-normalized payload as received from a collector.
type RawEvent struct {
	UserID    string         `json:"user_id"`
	EventID   string         `json:"event_id"`
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Meta      map[string]any `json:"meta"`
}

// PutResult reports whether a put stored a new event.
type PutResult string

const (
	PutStored    PutResult = "stored"
	PutDuplicate PutResult = "duplicate"
)

// QueryParams selects a user's events in [Since, Until), after Cursor.
// Zero Since/Until leave that side unbounded.
type QueryParams struct {
	UserID string
	Since  time.Time
	Until  time.Time
	Cursor string
	Limit  int
}

// Page is one ordered slice of a query. NextCursor is empty on the last page.
type Page struct {
	Events     []Event
	NextCursor string
}

// Stats summarizes a user's stored events.
type Stats struct {
	UserID      string
	Count       int
	LastEventAt *time.Time
}

// Query limits.
const (
	DefaultPageLimit = 500
	MaxPageLimit     = 5000
)

// EffectiveLimit clamps a requested page size.
func EffectiveLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageLimit
	case limit > MaxPageLimit:
		return MaxPageLimit
	default:
		return limit
	}
}
