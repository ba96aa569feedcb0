// Package database opens the SQL backends and applies the schema.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"focuswatch/internal/platform/config"
)

// Open connects to the configured SQL backend and ensures the schema exists.
func Open(ctx context.Context, cfg config.StoreConfig) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Backend {
	case config.BackendPostgres:
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	case config.BackendSQLite:
		// WAL plus a busy timeout lets readers proceed during the prune write.
		dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", cfg.SQLitePath)
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY churn.
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("backend %q is not a SQL backend", cfg.Backend)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Backend, err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// schema is portable across PostgreSQL and SQLite: timestamps are stored as
// Unix nanoseconds and JSON as text.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		user_id TEXT NOT NULL,
		id TEXT NOT NULL,
		ts_unix_nano BIGINT NOT NULL,
		type TEXT NOT NULL,
		meta TEXT NOT NULL,
		PRIMARY KEY (user_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_user_ts ON events (user_id, ts_unix_nano, id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_ts ON events (ts_unix_nano)`,
	`CREATE TABLE IF NOT EXISTS actions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		suggestion_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		ts_unix_nano BIGINT NOT NULL,
		UNIQUE (user_id, suggestion_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_ts ON actions (ts_unix_nano)`,
	`CREATE TABLE IF NOT EXISTS rule_feedback (
		rule_id TEXT PRIMARY KEY,
		accepted BIGINT NOT NULL DEFAULT 0,
		rejected BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS audit_outbox (
		id TEXT PRIMARY KEY,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		published_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_outbox_pending ON audit_outbox (published_at, created_at)`,
}

// Migrate creates tables and indexes if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
