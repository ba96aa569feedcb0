package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryFeedback covers user decisions on suggestions. These feed the
	// learning loop and are kept for the full retention horizon.
	CategoryFeedback EventCategory = "feedback"

	// CategorySecurity covers rejected or throttled traffic.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers maintenance runs and degraded reads.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    string
	// Subject is the entity acted on (suggestion ID, table name).
	Subject  string
	Action   string
	RuleID   string
	Decision string
	Reason   string
	// Count carries batch sizes (events pruned, events rejected).
	Count     int
	RequestID string
}

type AuditEvent string

const (
	// Feedback events
	EventSuggestionAccepted AuditEvent = "suggestion_accepted"
	EventSuggestionRejected AuditEvent = "suggestion_rejected"

	// Security events
	EventIngestRateLimited AuditEvent = "ingest_rate_limited"
	EventIngestRejected    AuditEvent = "ingest_rejected"

	// Operations events
	EventRetentionPruned        AuditEvent = "retention_pruned"
	EventSuggestionsServedStale AuditEvent = "suggestions_served_stale"
	EventRuleFailed             AuditEvent = "rule_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventSuggestionAccepted: CategoryFeedback,
	EventSuggestionRejected: CategoryFeedback,

	EventIngestRateLimited: CategorySecurity,
	EventIngestRejected:    CategorySecurity,

	EventRetentionPruned:        CategoryOperations,
	EventSuggestionsServedStale: CategoryOperations,
	EventRuleFailed:             CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister is implemented by stores that can read events back.
type Lister interface {
	ListByUser(ctx context.Context, userID string) ([]Event, error)
}

// Emitter is what domain services depend on.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}
