// Package auth guards the activity API with static API keys.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"

	request "focuswatch/pkg/platform/middleware/request"
	"focuswatch/pkg/requestcontext"
)

// HeaderAPIKey carries the caller's API key.
const HeaderAPIKey = "X-API-Key"

// RequireAPIKey rejects requests whose X-API-Key is not one of keys.
// An empty key list disables authentication (local single-user mode).
func RequireAPIKey(keys []string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(HeaderAPIKey)
			matched := false
			// Compare against every key so timing does not reveal which one matched.
			for _, k := range keys {
				if subtle.ConstantTimeCompare([]byte(presented), []byte(k)) == 1 {
					matched = true
				}
			}
			if !matched {
				ctx := r.Context()
				logger.WarnContext(ctx, "api key rejected",
					"request_id", request.GetRequestID(ctx),
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"valid API key required"}`))
				return
			}

			ctx := requestcontext.WithAPIKeyID(r.Context(), KeyID(presented))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// KeyID is a short, non-reversible identifier for logging which key was used.
func KeyID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}
