// Package outbox implements audit.Store with the transactional outbox pattern.
// Events are written to the outbox table, inside the caller's transaction
// when one is in context, and relayed to Kafka by the audit worker.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "focuswatch/pkg/platform/audit"
	txcontext "focuswatch/pkg/platform/tx"
)

// Entry is an unpublished outbox row.
type Entry struct {
	ID          string
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Append writes an audit event to the outbox table.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.NewString()
	payload, err := audit.Encode(eventID, event)
	if err != nil {
		return err
	}

	aggregateID := event.UserID
	if aggregateID == "" {
		aggregateID = eventID
	}

	query := `
		INSERT INTO audit_outbox (id, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, query,
		eventID,
		aggregateID,
		event.Action,
		string(payload),
		s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// FetchPending returns up to limit unpublished entries, oldest first.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			payload string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.Payload = []byte(payload)
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkPublished stamps the given entries as relayed.
func (s *Store) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	at := s.now().UnixNano()
	return txcontext.RunInTx(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecutorFor(ctx, s.db)
		for _, id := range ids {
			if _, err := exec.ExecContext(ctx,
				`UPDATE audit_outbox SET published_at = $1 WHERE id = $2`, at, id); err != nil {
				return fmt.Errorf("mark outbox entry published: %w", err)
			}
		}
		return nil
	})
}

// DeletePublishedBefore removes relayed entries older than cutoff.
func (s *Store) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_outbox WHERE published_at IS NOT NULL AND created_at < $1`,
		cutoff.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete published outbox entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("outbox rows affected: %w", err)
	}
	return int(n), nil
}

// ListByUser decodes every outbox entry recorded for the user.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM audit_outbox WHERE aggregate_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query outbox by user: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan outbox payload: %w", err)
		}
		_, event, err := audit.Decode([]byte(payload))
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
