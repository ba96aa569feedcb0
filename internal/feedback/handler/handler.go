package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"focuswatch/internal/feedback/models"
	dErrors "focuswatch/pkg/domain-errors"
	"focuswatch/pkg/platform/httputil"
	"focuswatch/pkg/requestcontext"
)

// Service defines the feedback operations the handler needs.
type Service interface {
	Record(ctx context.Context, req models.RecordRequest) (*models.Action, error)
	ListByUser(ctx context.Context, userID string) ([]models.Action, error)
}

// RecordActionRequest is the body of POST /api/actions.
type RecordActionRequest struct {
	UserID       string `json:"user_id"`
	SuggestionID string `json:"suggestion_id"`
	Action       string `json:"action"`
	RuleID       string `json:"rule_id,omitempty"`
}

// Validate checks presence only; the service owns value validation.
func (r *RecordActionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	r.UserID = strings.TrimSpace(r.UserID)
	r.SuggestionID = strings.TrimSpace(r.SuggestionID)
	if r.UserID == "" || r.SuggestionID == "" || strings.TrimSpace(r.Action) == "" {
		return dErrors.New(dErrors.CodeValidation, "user_id, suggestion_id and action are required")
	}
	return nil
}

type RecordActionResponse struct {
	Status string        `json:"status"`
	Action models.Action `json:"action"`
}

type ListActionsResponse struct {
	UserID  string          `json:"user_id"`
	Actions []models.Action `json:"actions"`
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/actions", h.HandleRecord)
	r.Get("/actions", h.HandleList)
}

// HandleRecord handles POST /api/actions.
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RecordActionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	action, err := h.service.Record(ctx, models.RecordRequest{
		UserID:       req.UserID,
		SuggestionID: req.SuggestionID,
		RuleID:       req.RuleID,
		Action:       req.Action,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "action not recorded",
			"request_id", requestID,
			"user_id", req.UserID,
			"suggestion_id", req.SuggestionID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RecordActionResponse{Status: "ok", Action: *action})
}

// HandleList handles GET /api/actions.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))

	actions, err := h.service.ListByUser(ctx, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ListActionsResponse{UserID: userID, Actions: actions})
}
