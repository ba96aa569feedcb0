// Package httpapi assembles the HTTP surface: public API routes behind API-key
// auth, admin routes behind the admin token, and ops endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"focuswatch/internal/platform/metrics"
	"focuswatch/pkg/platform/httputil"
	adminmw "focuswatch/pkg/platform/middleware/admin"
	"focuswatch/pkg/platform/middleware/auth"
	request "focuswatch/pkg/platform/middleware/request"
	"focuswatch/pkg/platform/middleware/requesttime"
)

// Registrar mounts a domain handler's routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	APIKeys []string
	// AdminToken empty disables the admin routes.
	AdminToken string

	API    []Registrar
	Admin  Registrar
	Checks map[string]HealthCheck
}

func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	r.Get("/health", healthHandler(cfg.Checks))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(auth.RequireAPIKey(cfg.APIKeys, cfg.Logger))
		for _, h := range cfg.API {
			h.Register(api)
		}
	})

	if cfg.Admin != nil && cfg.AdminToken != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(adminmw.RequireAdminToken(cfg.AdminToken, cfg.Logger))
			cfg.Admin.Register(admin)
		})
	}
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
