package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"focuswatch/internal/activity/models"
	txcontext "focuswatch/pkg/platform/tx"
)

// SQLStore persists events in PostgreSQL or SQLite. Both accept the same
// $n placeholders and ON CONFLICT clause.
type SQLStore struct {
	db *sql.DB
}

func NewSQL(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Put relies on the (user_id, id) primary key for atomic insert-if-absent.
func (s *SQLStore) Put(ctx context.Context, e models.Event) (models.PutResult, error) {
	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return "", fmt.Errorf("marshal event meta: %w", err)
	}
	query := `
		INSERT INTO events (user_id, id, ts_unix_nano, type, meta)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, id) DO NOTHING
	`
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, query,
		e.UserID, e.ID, e.Timestamp.UnixNano(), string(e.Type), string(meta))
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("insert event rows affected: %w", err)
	}
	if n == 0 {
		return models.PutDuplicate, nil
	}
	return models.PutStored, nil
}

func (s *SQLStore) Query(ctx context.Context, p models.QueryParams) (*models.Page, error) {
	pos, err := decodeCursor(p.Cursor)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &position{tsNano: minNano}
	}
	limit := models.EffectiveLimit(p.Limit)
	since, until := bounds(p)

	// One extra row tells us whether another page exists.
	query := `
		SELECT id, ts_unix_nano, type, meta
		FROM events
		WHERE user_id = $1
		  AND ts_unix_nano >= $2 AND ts_unix_nano < $3
		  AND (ts_unix_nano > $4 OR (ts_unix_nano = $4 AND id > $5))
		ORDER BY ts_unix_nano, id
		LIMIT $6
	`
	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx, query,
		p.UserID, since, until, pos.tsNano, pos.id, limit+1)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0, limit)
	for rows.Next() {
		var (
			e      models.Event
			tsNano int64
			typ    string
			meta   string
		)
		if err := rows.Scan(&e.ID, &tsNano, &typ, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.UserID = p.UserID
		e.Timestamp = fromNano(tsNano)
		e.Type = models.EventType(typ)
		if err := json.Unmarshal([]byte(meta), &e.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal event meta: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	page := &models.Page{Events: events}
	if len(events) > limit {
		page.Events = events[:limit]
		page.NextCursor = EncodeCursor(page.Events[limit-1])
	}
	return page, nil
}

// Prune deletes in one statement so a cancelled prune rolls back entirely.
func (s *SQLStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM events WHERE ts_unix_nano < $1`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) Stats(ctx context.Context, userID string) (*models.Stats, error) {
	var (
		count int
		last  sql.NullInt64
	)
	err := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(ts_unix_nano) FROM events WHERE user_id = $1`, userID,
	).Scan(&count, &last)
	if err != nil {
		return nil, fmt.Errorf("event stats: %w", err)
	}
	stats := &models.Stats{UserID: userID, Count: count}
	if last.Valid {
		t := fromNano(last.Int64)
		stats.LastEventAt = &t
	}
	return stats, nil
}
