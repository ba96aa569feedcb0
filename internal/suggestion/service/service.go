// Package service computes ranked suggestions for a user: it loads the event
// window, runs the rule engine, joins feedback and ranks the candidates.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	activity "focuswatch/internal/activity/models"
	feedback "focuswatch/internal/feedback/models"
	"focuswatch/internal/ranking"
	"focuswatch/internal/rules/engine"
	rules "focuswatch/internal/rules/models"
	"focuswatch/internal/suggestion/metrics"
	"focuswatch/internal/suggestion/models"
	dErrors "focuswatch/pkg/domain-errors"
	audit "focuswatch/pkg/platform/audit"
	"focuswatch/pkg/requestcontext"
)

const (
	defaultLookback = 24 * time.Hour
	// feedbackConcurrency bounds parallel acceptance-rate lookups.
	feedbackConcurrency = 8
)

// EventSource returns a user's events in [since, until), ascending.
type EventSource interface {
	Window(ctx context.Context, userID string, since, until time.Time) ([]activity.Event, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, w rules.Window, h *rules.History) engine.Result
}

type HistoryStore interface {
	Load(ctx context.Context, userID string) (*rules.History, error)
	Save(ctx context.Context, h *rules.History) error
}

// FeedbackSource exposes the action store read side.
type FeedbackSource interface {
	AcceptanceRate(ctx context.Context, ruleID string) (float64, bool, error)
	ListByUser(ctx context.Context, userID string) ([]feedback.Action, error)
}

type Ranker interface {
	Rank(candidates []rules.Candidate, history ranking.FeedbackHistory, now time.Time) []models.Suggestion
}

// Service is safe for concurrent use. The last successfully computed list per
// user is kept in memory and served, flagged stale, when a store is down.
type Service struct {
	events   EventSource
	engine   Evaluator
	history  HistoryStore
	feedback FeedbackSource
	ranker   Ranker

	logger   *slog.Logger
	metrics  *metrics.Metrics
	auditor  audit.Emitter
	tracer   trace.Tracer
	lookback time.Duration

	mu       sync.RWMutex
	lastGood map[string]*models.Result
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditor(a audit.Emitter) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

// WithLookback sets the default window length when a query has no since.
func WithLookback(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lookback = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func New(events EventSource, eval Evaluator, history HistoryStore, fb FeedbackSource, ranker Ranker, opts ...Option) *Service {
	s := &Service{
		events:   events,
		engine:   eval,
		history:  history,
		feedback: fb,
		ranker:   ranker,
		logger:   slog.Default(),
		tracer:   otel.Tracer("focuswatch/suggestion"),
		lookback: defaultLookback,
		lastGood: make(map[string]*models.Result),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Suggestions returns the ranked list for q. When the event or action store
// is unavailable it returns the user's last good list with Stale set, or the
// unavailable error if there is none.
func (s *Service) Suggestions(ctx context.Context, q models.Query) (*models.Result, error) {
	now := requestcontext.Now(ctx)
	q, err := s.resolveQuery(q, now)
	if err != nil {
		s.metrics.IncrementQuery("invalid")
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "suggestion.query", trace.WithAttributes(
		attribute.String("focuswatch.user_id", q.UserID),
	))
	defer span.End()

	start := time.Now()
	result, err := s.compute(ctx, q, now)
	if err != nil {
		span.RecordError(err)
		if !dErrors.HasCode(err, dErrors.CodeUnavailable) {
			span.SetStatus(codes.Error, "suggestion query failed")
			return nil, err
		}
		if stale := s.stale(q.UserID); stale != nil {
			s.metrics.IncrementQuery("stale")
			span.SetAttributes(attribute.Bool("focuswatch.stale", true))
			s.logger.WarnContext(ctx, "serving last known good suggestions",
				"request_id", requestcontext.RequestID(ctx),
				"user_id", q.UserID,
				"generated_at", stale.GeneratedAt,
				"error", err,
			)
			s.emit(ctx, audit.Event{
				UserID: q.UserID,
				Action: string(audit.EventSuggestionsServedStale),
				Reason: errorMessage(err),
				Count:  len(stale.Suggestions),
			})
			return stale, nil
		}
		s.metrics.IncrementQuery("unavailable")
		span.SetStatus(codes.Error, "suggestions unavailable")
		return nil, err
	}

	s.metrics.IncrementQuery("fresh")
	s.metrics.ObservePipeline(time.Since(start), len(result.Suggestions))
	span.SetAttributes(attribute.Int("focuswatch.suggestions", len(result.Suggestions)))
	s.remember(result)
	return result, nil
}

func (s *Service) resolveQuery(q models.Query, now time.Time) (models.Query, error) {
	if q.UserID == "" {
		return q, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	if q.Until.IsZero() {
		q.Until = now
	}
	if q.Since.IsZero() {
		q.Since = q.Until.Add(-s.lookback)
	}
	if !q.Since.Before(q.Until) {
		return q, dErrors.New(dErrors.CodeValidation, "since must be before until")
	}
	return q, nil
}

func (s *Service) compute(ctx context.Context, q models.Query, now time.Time) (*models.Result, error) {
	var (
		events      []activity.Event
		history     *rules.History
		historyLive = true
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = s.events.Window(gctx, q.UserID, q.Since, q.Until)
		return err
	})
	g.Go(func() error {
		h, err := s.history.Load(gctx, q.UserID)
		if err != nil {
			// Evaluate without baseline rather than failing the query.
			s.logger.WarnContext(ctx, "rule history unavailable",
				"user_id", q.UserID,
				"error", err,
			)
			historyLive = false
			h = rules.NewHistory(q.UserID)
		}
		history = h
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	evalCtx, span := s.tracer.Start(ctx, "suggestion.evaluate", trace.WithAttributes(
		attribute.Int("focuswatch.events", len(events)),
	))
	res := s.engine.Evaluate(evalCtx, rules.Window{
		UserID: q.UserID,
		Start:  q.Since,
		End:    q.Until,
		Events: events,
	}, history)
	span.SetAttributes(
		attribute.Int("focuswatch.candidates", len(res.Candidates)),
		attribute.Int("focuswatch.diagnostics", len(res.Diagnostics)),
	)
	span.End()

	if historyLive && res.History != nil {
		if err := s.history.Save(ctx, res.History); err != nil {
			s.logger.WarnContext(ctx, "failed to save rule history",
				"user_id", q.UserID,
				"error", err,
			)
		}
	}
	diagnostics := s.report(ctx, q.UserID, res.Diagnostics)

	rates, err := s.loadRates(ctx, res.Candidates)
	if err != nil {
		return nil, err
	}
	actions, err := s.feedback.ListByUser(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	suggestions := s.ranker.Rank(res.Candidates, rates, now)
	applyFeedback(suggestions, actions)

	return &models.Result{
		UserID:      q.UserID,
		Suggestions: suggestions,
		GeneratedAt: now,
		Diagnostics: diagnostics,
	}, nil
}

// loadRates fetches the acceptance rate of every rule that produced a
// candidate. Rules without feedback are left out so the ranker uses its prior.
func (s *Service) loadRates(ctx context.Context, candidates []rules.Candidate) (ranking.Rates, error) {
	var ruleIDs []string
	for _, c := range candidates {
		if !slices.Contains(ruleIDs, c.RuleID) {
			ruleIDs = append(ruleIDs, c.RuleID)
		}
	}

	type rate struct {
		value float64
		ok    bool
	}
	found := make([]rate, len(ruleIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(feedbackConcurrency)
	for i, ruleID := range ruleIDs {
		g.Go(func() error {
			v, ok, err := s.feedback.AcceptanceRate(gctx, ruleID)
			if err != nil {
				return fmt.Errorf("acceptance rate for %s: %w", ruleID, err)
			}
			found[i] = rate{value: v, ok: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rates := make(ranking.Rates, len(ruleIDs))
	for i, ruleID := range ruleIDs {
		if found[i].ok {
			rates[ruleID] = found[i].value
		}
	}
	return rates, nil
}

// applyFeedback moves suggestions the user already acted on to their terminal
// state. Terminal suggestions are never auto-executable.
func applyFeedback(suggestions []models.Suggestion, actions []feedback.Action) {
	if len(actions) == 0 {
		return
	}
	kinds := make(map[string]feedback.Kind, len(actions))
	for _, a := range actions {
		kinds[a.SuggestionID] = a.Kind
	}
	for i := range suggestions {
		switch kinds[suggestions[i].ID] {
		case feedback.KindAccept:
			suggestions[i].State = models.StateAccepted
			suggestions[i].AutoExecutable = false
		case feedback.KindReject:
			suggestions[i].State = models.StateRejected
			suggestions[i].AutoExecutable = false
		}
	}
}

func (s *Service) report(ctx context.Context, userID string, diags []rules.Diagnostic) []string {
	if len(diags) == 0 {
		return nil
	}
	out := make([]string, 0, len(diags))
	for _, d := range diags {
		s.metrics.IncrementDiagnostic(d.RuleID)
		s.logger.WarnContext(ctx, "rule evaluation failed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID,
			"rule_id", d.RuleID,
			"panicked", d.Panicked,
			"error", d.Err,
		)
		s.emit(ctx, audit.Event{
			UserID: userID,
			Action: string(audit.EventRuleFailed),
			RuleID: d.RuleID,
			Reason: d.Error(),
		})
		out = append(out, d.Error())
	}
	return out
}

// LookupRule resolves the rule of a suggestion from the user's last ranked
// list. Used when an action omits its rule_id.
func (s *Service) LookupRule(_ context.Context, userID, suggestionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.lastGood[userID]
	if !ok {
		return "", false
	}
	for _, sg := range res.Suggestions {
		if sg.ID == suggestionID {
			return sg.RuleID, true
		}
	}
	return "", false
}

func (s *Service) remember(res *models.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastGood[res.UserID] = cloneResult(res)
}

func (s *Service) stale(userID string) *models.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.lastGood[userID]
	if !ok {
		return nil
	}
	out := cloneResult(res)
	out.Stale = true
	return out
}

// Forget drops the cached list of userID.
func (s *Service) Forget(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastGood, userID)
}

func cloneResult(res *models.Result) *models.Result {
	out := *res
	out.Suggestions = slices.Clone(res.Suggestions)
	out.Diagnostics = slices.Clone(res.Diagnostics)
	return &out
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"error", err,
		)
	}
}

func errorMessage(err error) string {
	if de, ok := dErrors.As(err); ok {
		return de.Message
	}
	return err.Error()
}
