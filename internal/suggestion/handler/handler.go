package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"focuswatch/internal/activity/normalizer"
	"focuswatch/internal/suggestion/models"
	dErrors "focuswatch/pkg/domain-errors"
	"focuswatch/pkg/platform/httputil"
	"focuswatch/pkg/requestcontext"
)

type Service interface {
	Suggestions(ctx context.Context, q models.Query) (*models.Result, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/suggestions", h.HandleSuggestions)
}

// HandleSuggestions handles GET /api/suggestions. A stale result is still a
// 200; clients read the stale flag.
func (h *Handler) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := parseQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.Suggestions(ctx, q)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnavailable) {
			h.logger.ErrorContext(ctx, "suggestions unavailable",
				"request_id", requestcontext.RequestID(ctx),
				"user_id", q.UserID,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	if res.Suggestions == nil {
		res.Suggestions = []models.Suggestion{}
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func parseQuery(r *http.Request) (models.Query, error) {
	v := r.URL.Query()
	q := models.Query{UserID: strings.TrimSpace(v.Get("user_id"))}
	if q.UserID == "" {
		return q, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	var err error
	if q.Since, err = optionalTime(v.Get("since"), "since"); err != nil {
		return q, err
	}
	if q.Until, err = optionalTime(v.Get("until"), "until"); err != nil {
		return q, err
	}
	return q, nil
}

func optionalTime(v, field string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := normalizer.ParseTimestamp(v)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, field+" must be an RFC 3339 timestamp")
	}
	return t, nil
}
