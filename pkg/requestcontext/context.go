// Package requestcontext carries request-scoped values through context so
// services can read them without depending on net/http.
package requestcontext

import (
	"context"
	"time"
)

type ctxKey int

const (
	keyRequestID ctxKey = iota
	keyRequestTime
	keyAPIKey
)

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(keyRequestID).(string)
	return id
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// APIKeyID is the short fingerprint of the key that authenticated the call,
// empty for unauthenticated or background work.
func APIKeyID(ctx context.Context) string {
	id, _ := ctx.Value(keyAPIKey).(string)
	return id
}

func WithAPIKeyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyAPIKey, id)
}

// Now returns the time pinned by the request-time middleware, or the wall
// clock for workers and tests that never set one. Always UTC.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(keyRequestTime).(time.Time); ok {
		return t.UTC()
	}
	return time.Now().UTC()
}

// WithTime pins the clock seen by Now.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, keyRequestTime, t)
}
