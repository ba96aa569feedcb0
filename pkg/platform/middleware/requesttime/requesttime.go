// Package requesttime pins one "now" per request so event normalization,
// ranking recency and action timestamps agree within a request.
package requesttime

import (
	"net/http"
	"time"

	"focuswatch/pkg/requestcontext"
)

// Middleware stores the arrival time, in UTC, in the request context. Read it
// with requestcontext.Now.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
