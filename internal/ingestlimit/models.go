// Package ingestlimit throttles event ingestion per user with a sliding window.
package ingestlimit

import (
	"context"
	"strings"
	"time"
)

// Result is the outcome of a limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Limit     int
}

// Store admits cost units for key if the window has room.
type Store interface {
	AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*Result, error)
}

// Key builds the bucket key for a user. ':' is escaped so user-controlled IDs
// cannot collide with adjacent key segments.
func Key(userID string) string {
	return "ingest:" + strings.ReplaceAll(userID, ":", "_")
}

// Limiter applies a fixed per-user budget. A zero limit disables throttling.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

func NewLimiter(store Store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

// Allow reports whether userID may ingest cost more events.
func (l *Limiter) Allow(ctx context.Context, userID string, cost int) (*Result, error) {
	if l == nil || l.limit <= 0 {
		return &Result{Allowed: true}, nil
	}
	return l.store.AllowN(ctx, Key(userID), cost, l.limit, l.window)
}
