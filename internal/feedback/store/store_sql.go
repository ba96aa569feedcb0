package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"focuswatch/internal/feedback/models"
	"focuswatch/pkg/platform/sentinel"
	txcontext "focuswatch/pkg/platform/tx"
)

// SQLStore keeps actions and rule counters in PostgreSQL or SQLite.
type SQLStore struct {
	db *sql.DB
}

func NewSQL(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Record inserts the action and bumps its rule counter in one transaction.
// An existing action for the pair yields sentinel.ErrAlreadyUsed.
func (s *SQLStore) Record(ctx context.Context, a models.Action) error {
	return txcontext.RunInTx(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecutorFor(ctx, s.db)
		res, err := exec.ExecContext(ctx, `
			INSERT INTO actions (id, user_id, suggestion_id, rule_id, kind, ts_unix_nano)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, suggestion_id) DO NOTHING
		`, a.ID, a.UserID, a.SuggestionID, a.RuleID, string(a.Kind), a.Timestamp.UnixNano())
		if err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert action rows affected: %w", err)
		}
		if n == 0 {
			return sentinel.ErrAlreadyUsed
		}

		var accepted, rejected int64
		if a.Kind == models.KindAccept {
			accepted = 1
		} else {
			rejected = 1
		}
		_, err = exec.ExecContext(ctx, `
			INSERT INTO rule_feedback (rule_id, accepted, rejected)
			VALUES ($1, $2, $3)
			ON CONFLICT (rule_id) DO UPDATE SET
				accepted = rule_feedback.accepted + excluded.accepted,
				rejected = rule_feedback.rejected + excluded.rejected
		`, a.RuleID, accepted, rejected)
		if err != nil {
			return fmt.Errorf("update rule feedback: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) Counts(ctx context.Context, ruleID string) (models.Counts, error) {
	c := models.Counts{RuleID: ruleID}
	err := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT accepted, rejected FROM rule_feedback WHERE rule_id = $1`, ruleID,
	).Scan(&c.Accepted, &c.Rejected)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("read rule feedback: %w", err)
	}
	return c, nil
}

func (s *SQLStore) ListByUser(ctx context.Context, userID string) ([]models.Action, error) {
	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx, `
		SELECT id, suggestion_id, rule_id, kind, ts_unix_nano
		FROM actions
		WHERE user_id = $1
		ORDER BY ts_unix_nano, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	out := make([]models.Action, 0)
	for rows.Next() {
		var (
			a    models.Action
			kind string
			ts   int64
		)
		if err := rows.Scan(&a.ID, &a.SuggestionID, &a.RuleID, &kind, &ts); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.UserID = userID
		a.Kind = models.Kind(kind)
		a.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return out, nil
}

// Prune deletes old actions in one statement; rule_feedback is untouched.
func (s *SQLStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM actions WHERE ts_unix_nano < $1`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune actions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune actions rows affected: %w", err)
	}
	return int(n), nil
}
