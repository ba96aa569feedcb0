package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"focuswatch/internal/activity/handler"
	activitymetrics "focuswatch/internal/activity/metrics"
	"focuswatch/internal/activity/normalizer"
	activityservice "focuswatch/internal/activity/service"
	"focuswatch/internal/admin"
	feedbackhandler "focuswatch/internal/feedback/handler"
	feedbackmetrics "focuswatch/internal/feedback/metrics"
	feedbackservice "focuswatch/internal/feedback/service"
	httpapi "focuswatch/internal/http"
	"focuswatch/internal/ingestlimit"
	"focuswatch/internal/platform/config"
	"focuswatch/internal/platform/httpserver"
	"focuswatch/internal/platform/logger"
	platformmetrics "focuswatch/internal/platform/metrics"
	"focuswatch/internal/ranking"
	"focuswatch/internal/retention"
	"focuswatch/internal/rules/detectors"
	"focuswatch/internal/rules/engine"
	rulesmetrics "focuswatch/internal/rules/metrics"
	suggestionhandler "focuswatch/internal/suggestion/handler"
	suggestionmetrics "focuswatch/internal/suggestion/metrics"
	suggestionservice "focuswatch/internal/suggestion/service"
	"focuswatch/internal/tuning"
	"focuswatch/pkg/platform/circuit"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("focuswatch exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	tun, err := tuning.Load(cfg.TuningFile)
	if err != nil {
		return err
	}
	tun.Ranking.AutoExecThreshold = cfg.Suggestions.AutoExecConfidence
	if err := tun.Ranking.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	// Rules
	ruleset, err := detectors.Build(tun.Rules, tun.Expressions)
	if err != nil {
		return err
	}
	eng, err := engine.NewEngine(ruleset, engine.WithLogger(log), engine.WithMetrics(rulesmetrics.New()))
	if err != nil {
		return err
	}

	// Activity
	norm, err := normalizer.New(cfg.Privacy.Salt, cfg.Privacy.PIIKeys...)
	if err != nil {
		return err
	}
	activityOpts := []activityservice.Option{
		activityservice.WithLogger(log),
		activityservice.WithMetrics(activitymetrics.New()),
		activityservice.WithAuditor(b.auditEmitter()),
		activityservice.WithStoreTimeout(cfg.Store.Timeout),
		activityservice.WithBreaker(circuit.New("event_store", circuit.WithCooldown(10*time.Second))),
	}
	if cfg.IngestRateLimit > 0 {
		activityOpts = append(activityOpts, activityservice.WithLimiter(
			ingestlimit.NewLimiter(b.limitStore, cfg.IngestRateLimit, time.Minute)))
	}
	activitySvc := activityservice.New(b.events, norm, activityOpts...)

	// Feedback and suggestions
	feedbackSvc := feedbackservice.New(b.actions,
		feedbackservice.WithLogger(log),
		feedbackservice.WithMetrics(feedbackmetrics.New()),
		feedbackservice.WithAuditor(b.auditEmitter()),
		feedbackservice.WithTransactor(b.transactor),
		feedbackservice.WithRuleRegistry(eng),
		feedbackservice.WithStoreTimeout(cfg.Store.Timeout),
	)
	ranker := ranking.New(tun.Ranking)
	suggestionSvc := suggestionservice.New(activitySvc, eng, b.history, feedbackSvc, ranker,
		suggestionservice.WithLogger(log),
		suggestionservice.WithMetrics(suggestionmetrics.New()),
		suggestionservice.WithAuditor(b.auditEmitter()),
		suggestionservice.WithLookback(cfg.Suggestions.Lookback),
	)
	feedbackSvc.SetSuggestionLookup(suggestionSvc)

	// Retention
	targets := []retention.Target{
		{Name: "events", Prune: activitySvc.Prune},
		{Name: "actions", Prune: feedbackSvc.Prune},
	}
	if b.outbox != nil {
		targets = append(targets, retention.Target{Name: "audit_outbox", Prune: b.outbox.DeletePublishedBefore})
	}
	pruner := retention.New(cfg.Retention.Horizon(), targets,
		retention.WithInterval(cfg.Retention.PruneInterval),
		retention.WithLogger(log),
	)

	checks := map[string]httpapi.HealthCheck{}
	if b.db != nil {
		checks["database"] = b.db.PingContext
	}
	if b.redis != nil {
		checks["redis"] = b.redis.Health
	}
	if b.producer != nil {
		checks["kafka"] = b.producer.Health
	}

	router := httpapi.NewRouter(httpapi.Config{
		Logger:     log,
		Metrics:    platformmetrics.New(),
		APIKeys:    cfg.Server.APIKeys,
		AdminToken: cfg.Server.AdminToken,
		API: []httpapi.Registrar{
			handler.New(activitySvc, log),
			feedbackhandler.New(feedbackSvc, log),
			suggestionhandler.New(suggestionSvc, log),
		},
		Admin:  admin.New(pruner, eng, ranker, log),
		Checks: checks,
	})
	srv := httpserver.New(cfg.Server.Addr, router,
		httpserver.WithWriteTimeout(max(30*time.Second, 10*cfg.Store.Timeout)))

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	startWorker(workerCtx, &wg, log, "retention", pruner.Run)
	if b.relay != nil {
		startWorker(workerCtx, &wg, log, "audit_relay", b.relay.Run)
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting focuswatch",
			"addr", cfg.Server.Addr,
			"backend", cfg.Store.Backend,
			"rules", len(eng.Rules()),
			"redis", b.redis != nil,
			"kafka", b.producer != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			cancelWorkers()
			wg.Wait()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	cancelWorkers()
	wg.Wait()
	return nil
}

func startWorker(ctx context.Context, wg *sync.WaitGroup, log *slog.Logger, name string, run func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("worker stopped", "worker", name, "error", err)
		}
	}()
}
