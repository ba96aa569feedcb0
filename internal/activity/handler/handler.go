package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"focuswatch/internal/activity/models"
	"focuswatch/internal/activity/service"
	"focuswatch/pkg/platform/httputil"
	"focuswatch/pkg/requestcontext"
)

// Service defines the activity operations the handler needs.
type Service interface {
	IngestOne(ctx context.Context, raw models.RawEvent) (models.PutResult, *models.Event, error)
	IngestBatch(ctx context.Context, raws []models.RawEvent) (*service.BatchResult, error)
	Events(ctx context.Context, p models.QueryParams) (*models.Page, error)
	Stats(ctx context.Context, userID string) (*models.Stats, error)
}

// Handler wires ingestion and event read endpoints to the activity service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts activity endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/ingest", h.HandleIngest)
	r.Get("/events", h.HandleEvents)
	r.Get("/stats", h.HandleStats)
}

// HandleIngest handles POST /api/ingest.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[IngestRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if !req.Batch {
		res, event, err := h.service.IngestOne(ctx, req.Events[0])
		if err != nil {
			h.logger.WarnContext(ctx, "event rejected",
				"request_id", requestID,
				"user_id", req.Events[0].UserID,
				"error", err,
			)
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, FromSingle(res, event))
		return
	}

	result, err := h.service.IngestBatch(ctx, req.Events)
	if err != nil {
		h.logger.ErrorContext(ctx, "batch ingest failed",
			"request_id", requestID,
			"batch_size", len(req.Events),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "batch ingested",
		"request_id", requestID,
		"stored", result.Stored,
		"duplicates", result.Duplicates,
		"invalid", result.Invalid,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromBatch(result))
}

// HandleEvents handles GET /api/events.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := parseQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	page, err := h.service.Events(ctx, p)
	if err != nil {
		h.logger.ErrorContext(ctx, "event query failed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", p.UserID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, EventsResponse{
		UserID:     p.UserID,
		Events:     page.Events,
		NextCursor: page.NextCursor,
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.URL.Query().Get("user_id")

	stats, err := h.service.Stats(ctx, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StatsResponse{
		UserID:      stats.UserID,
		EventCount:  stats.Count,
		LastEventAt: stats.LastEventAt,
	})
}
