// Package admin exposes operator endpoints: manual pruning and read-only views
// of the rule registry and ranking weights.
package admin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"focuswatch/internal/ranking"
	"focuswatch/internal/retention"
	rules "focuswatch/internal/rules/models"
	"focuswatch/pkg/platform/httputil"
	"focuswatch/pkg/requestcontext"
)

type Pruner interface {
	PruneOnce(ctx context.Context) (*retention.Report, error)
}

type RuleRegistry interface {
	Rules() []rules.Descriptor
}

type RankingConfig interface {
	Config() ranking.Config
}

type Handler struct {
	pruner  Pruner
	rules   RuleRegistry
	ranking RankingConfig
	logger  *slog.Logger
}

func New(pruner Pruner, registry RuleRegistry, rankingCfg RankingConfig, logger *slog.Logger) *Handler {
	return &Handler{pruner: pruner, rules: registry, ranking: rankingCfg, logger: logger}
}

// Register mounts the admin routes. The caller applies RequireAdminToken.
func (h *Handler) Register(r chi.Router) {
	r.Post("/prune", h.HandlePrune)
	r.Get("/rules", h.HandleRules)
	r.Get("/weights", h.HandleWeights)
}

// HandlePrune runs one retention pass. A target failure is reported as an
// error after the other targets have run.
func (h *Handler) HandlePrune(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.pruner.PruneOnce(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual prune incomplete",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	resp := PruneResponse{Cutoff: report.Cutoff, Removed: report.Removed}
	for _, n := range report.Removed {
		resp.Total += n
	}
	h.logger.InfoContext(ctx, "manual prune completed",
		"request_id", requestcontext.RequestID(ctx),
		"cutoff", report.Cutoff,
		"removed", resp.Total,
	)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleRules(w http.ResponseWriter, _ *http.Request) {
	list := h.rules.Rules()
	httputil.WriteJSON(w, http.StatusOK, RulesResponse{Rules: list, Total: len(list)})
}

func (h *Handler) HandleWeights(w http.ResponseWriter, _ *http.Request) {
	cfg := h.ranking.Config()
	httputil.WriteJSON(w, http.StatusOK, WeightsResponse{
		Weights:           cfg.Weights,
		Prior:             cfg.Prior,
		RecencyTauSeconds: cfg.RecencyTau.Seconds(),
		AutoExecThreshold: cfg.AutoExecThreshold,
	})
}
