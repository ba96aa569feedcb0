package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"focuswatch/internal/feedback/metrics"
	"focuswatch/internal/feedback/models"
	dErrors "focuswatch/pkg/domain-errors"
	audit "focuswatch/pkg/platform/audit"
	"focuswatch/pkg/platform/sentinel"
	txcontext "focuswatch/pkg/platform/tx"
	"focuswatch/pkg/requestcontext"
)

const maxIDLength = 128

// Store persists actions and per-rule counters.
type Store interface {
	Record(ctx context.Context, a models.Action) error
	Counts(ctx context.Context, ruleID string) (models.Counts, error)
	ListByUser(ctx context.Context, userID string) ([]models.Action, error)
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// SuggestionLookup resolves the rule of a suggestion the user was last shown.
type SuggestionLookup interface {
	LookupRule(ctx context.Context, userID, suggestionID string) (ruleID string, ok bool)
}

// RuleRegistry reports whether a rule ID is registered.
type RuleRegistry interface {
	Has(ruleID string) bool
}

// Service records feedback under a single-terminal-state policy: the first
// accept or reject for a (user, suggestion) pair is final and later actions
// are conflicts.
type Service struct {
	store        Store
	tx           txcontext.Transactor
	auditor      audit.Emitter
	lookup       SuggestionLookup
	registry     RuleRegistry
	logger       *slog.Logger
	metrics      *metrics.Metrics
	storeTimeout time.Duration
	pruneGroup   singleflight.Group
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

// WithAuditor emits feedback audit events inside the record transaction.
func WithAuditor(a audit.Emitter) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

func WithTransactor(t txcontext.Transactor) Option {
	return func(s *Service) {
		if t != nil {
			s.tx = t
		}
	}
}

func WithSuggestionLookup(l SuggestionLookup) Option {
	return func(s *Service) {
		s.lookup = l
	}
}

func WithRuleRegistry(r RuleRegistry) Option {
	return func(s *Service) {
		s.registry = r
	}
}

func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		tx:           txcontext.NoopTransactor{},
		logger:       slog.Default(),
		storeTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSuggestionLookup wires the lookup after construction; the suggestion
// service that implements it depends on this service.
func (s *Service) SetSuggestionLookup(l SuggestionLookup) {
	s.lookup = l
}

// Record validates and stores a terminal action, bumping its rule counter.
func (s *Service) Record(ctx context.Context, req models.RecordRequest) (*models.Action, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.SuggestionID = strings.TrimSpace(req.SuggestionID)
	req.RuleID = strings.TrimSpace(req.RuleID)
	if req.UserID == "" || len(req.UserID) > maxIDLength {
		return nil, dErrors.New(dErrors.CodeValidation, "user_id is required and must be at most 128 characters")
	}
	if req.SuggestionID == "" || len(req.SuggestionID) > maxIDLength {
		return nil, dErrors.New(dErrors.CodeValidation, "suggestion_id is required and must be at most 128 characters")
	}
	kind, err := models.ParseKind(strings.ToLower(strings.TrimSpace(req.Action)))
	if err != nil {
		return nil, err
	}
	ruleID, err := s.resolveRule(ctx, req)
	if err != nil {
		return nil, err
	}

	action := models.Action{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		SuggestionID: req.SuggestionID,
		RuleID:       ruleID,
		Kind:         kind,
		Timestamp:    requestcontext.Now(ctx),
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	err = s.tx.RunInTx(storeCtx, func(ctx context.Context) error {
		if err := s.store.Record(ctx, action); err != nil {
			return err
		}
		return s.emitRecorded(ctx, action)
	})
	if err != nil {
		return nil, s.mapRecordError(ctx, action, err)
	}

	s.metrics.IncrementRecorded(string(kind), ruleID)
	s.logger.InfoContext(ctx, "feedback recorded",
		"request_id", requestcontext.RequestID(ctx),
		"api_key", requestcontext.APIKeyID(ctx),
		"user_id", action.UserID,
		"suggestion_id", action.SuggestionID,
		"rule_id", action.RuleID,
		"action", string(action.Kind),
	)
	return &action, nil
}

func (s *Service) resolveRule(ctx context.Context, req models.RecordRequest) (string, error) {
	ruleID := req.RuleID
	if ruleID == "" && s.lookup != nil {
		if id, ok := s.lookup.LookupRule(ctx, req.UserID, req.SuggestionID); ok {
			ruleID = id
		}
	}
	if ruleID == "" {
		return "", dErrors.New(dErrors.CodeValidation, "rule_id is required for suggestions that are no longer listed")
	}
	if s.registry != nil && !s.registry.Has(ruleID) {
		return "", dErrors.New(dErrors.CodeValidation, "rule_id does not reference a registered rule")
	}
	return ruleID, nil
}

// emitRecorded audits a stored action. Inside a SQL transaction the outbox
// write commits with the action, so a failure aborts both. Without one the
// action is already durable and the audit failure is only logged.
func (s *Service) emitRecorded(ctx context.Context, action models.Action) error {
	if s.auditor == nil {
		return nil
	}
	err := s.auditor.Emit(ctx, auditEventFor(ctx, action))
	if err == nil {
		return nil
	}
	if _, inTx := txcontext.From(ctx); inTx {
		return err
	}
	s.metrics.IncrementAuditFailure()
	s.logger.WarnContext(ctx, "feedback recorded without audit event",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", action.UserID,
		"suggestion_id", action.SuggestionID,
		"error", err,
	)
	return nil
}

func (s *Service) mapRecordError(ctx context.Context, action models.Action, err error) error {
	switch {
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		s.metrics.IncrementConflict()
		return dErrors.Wrap(err, dErrors.CodeConflict, "an action was already recorded for this suggestion")
	case ctx.Err() != nil:
		return dErrors.Wrap(err, dErrors.CodeTimeout, "request cancelled")
	}
	s.logger.ErrorContext(ctx, "failed to record feedback",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", action.UserID,
		"suggestion_id", action.SuggestionID,
		"error", err,
	)
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "action store timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "action store unavailable")
}

func auditEventFor(ctx context.Context, a models.Action) audit.Event {
	name := audit.EventSuggestionAccepted
	if a.Kind == models.KindReject {
		name = audit.EventSuggestionRejected
	}
	return audit.Event{
		Timestamp: a.Timestamp,
		UserID:    a.UserID,
		Subject:   a.SuggestionID,
		Action:    string(name),
		RuleID:    a.RuleID,
		Decision:  string(a.Kind),
		RequestID: requestcontext.RequestID(ctx),
	}
}

// AcceptanceRate returns the rule's accepted / (accepted + rejected). ok is
// false when the rule has no feedback yet.
func (s *Service) AcceptanceRate(ctx context.Context, ruleID string) (rate float64, ok bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	c, err := s.store.Counts(ctx, ruleID)
	if err != nil {
		return 0, false, dErrors.Wrap(err, dErrors.CodeUnavailable, "action store unavailable")
	}
	rate, ok = c.Rate()
	return rate, ok, nil
}

// Counts exposes the raw counters for a rule.
func (s *Service) Counts(ctx context.Context, ruleID string) (models.Counts, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	c, err := s.store.Counts(ctx, ruleID)
	if err != nil {
		return c, dErrors.Wrap(err, dErrors.CodeUnavailable, "action store unavailable")
	}
	return c, nil
}

// ListByUser returns the user's recorded actions, oldest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]models.Action, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	actions, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "action store unavailable")
	}
	return actions, nil
}

// Prune removes actions older than cutoff. Rule counters are retained.
// Concurrent callers share a single in-flight run.
func (s *Service) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	v, err, _ := s.pruneGroup.Do("prune", func() (any, error) {
		removed, err := s.store.Prune(ctx, cutoff)
		if err != nil {
			return removed, err
		}
		s.metrics.AddPruned(removed)
		if s.auditor != nil {
			if err := s.auditor.Emit(ctx, audit.Event{
				Subject: "actions",
				Action:  string(audit.EventRetentionPruned),
				Count:   removed,
			}); err != nil {
				s.logger.WarnContext(ctx, "failed to audit action prune", "error", err)
			}
		}
		return removed, nil
	})
	removed, _ := v.(int)
	if err != nil {
		return removed, dErrors.Wrap(err, dErrors.CodeUnavailable, "action prune failed")
	}
	return removed, nil
}
