// Package engine runs an ordered registry of detection rules against a window
// of events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	activity "focuswatch/internal/activity/models"
	"focuswatch/internal/rules/metrics"
	"focuswatch/internal/rules/models"
)

// Rule is one independent pattern detector. Detect must not retain w or h.
type Rule interface {
	ID() string
	Description() string
	Detect(w models.Window, h *models.History) ([]models.Candidate, error)
}

var (
	ErrDuplicateRule = errors.New("duplicate rule id")
	ErrEmptyRuleID   = errors.New("rule id is required")
)

// Result is the outcome of one evaluation.
type Result struct {
	Candidates  []models.Candidate
	History     *models.History
	Diagnostics []models.Diagnostic
}

// Engine holds rules in registration order. It is immutable after NewEngine
// and safe for concurrent use.
type Engine struct {
	rules   []Rule
	index   map[string]Rule
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine builds the registry. Rule IDs must be non-empty and unique.
func NewEngine(rules []Rule, opts ...Option) (*Engine, error) {
	e := &Engine{
		rules:  make([]Rule, 0, len(rules)),
		index:  make(map[string]Rule, len(rules)),
		logger: slog.Default(),
	}
	for _, r := range rules {
		id := r.ID()
		if id == "" {
			return nil, ErrEmptyRuleID
		}
		if _, exists := e.index[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, id)
		}
		e.index[id] = r
		e.rules = append(e.rules, r)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Rules describes the registered rules in evaluation order.
func (e *Engine) Rules() []models.Descriptor {
	out := make([]models.Descriptor, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, models.Descriptor{ID: r.ID(), Description: r.Description()})
	}
	return out
}

// Has reports whether ruleID is registered.
func (e *Engine) Has(ruleID string) bool {
	_, ok := e.index[ruleID]
	return ok
}

// Evaluate runs every rule against the same window. The caller's history is
// not modified; the updated copy is returned in Result.History. Errors and
// panics are isolated per rule and reported as diagnostics.
func (e *Engine) Evaluate(ctx context.Context, w models.Window, h *models.History) Result {
	start := time.Now()
	defer func() { e.metrics.ObserveEvaluation(time.Since(start).Seconds()) }()

	w = sortedWindow(w)
	next := h.Clone()
	if next == nil {
		next = models.NewHistory(w.UserID)
	}

	res := Result{History: next}
	for _, r := range e.rules {
		candidates, diag := e.run(r, w, next)
		if diag != nil {
			e.metrics.IncrementFailure(diag.RuleID)
			e.logger.WarnContext(ctx, "rule evaluation failed",
				"rule_id", diag.RuleID,
				"user_id", w.UserID,
				"panicked", diag.Panicked,
				"error", diag.Err,
			)
			res.Diagnostics = append(res.Diagnostics, *diag)
			continue
		}
		e.metrics.AddCandidates(r.ID(), len(candidates))
		res.Candidates = append(res.Candidates, candidates...)
	}
	return res
}

// run invokes one rule against a private history copy so a failing rule
// cannot leave partial state behind.
func (e *Engine) run(r Rule, w models.Window, h *models.History) (out []models.Candidate, diag *models.Diagnostic) {
	scratch := h.Clone()
	defer func() {
		if p := recover(); p != nil {
			out = nil
			diag = &models.Diagnostic{RuleID: r.ID(), Err: fmt.Errorf("%v", p), Panicked: true}
		}
	}()

	candidates, err := r.Detect(w, scratch)
	if err != nil {
		return nil, &models.Diagnostic{RuleID: r.ID(), Err: err}
	}
	for i := range candidates {
		c := &candidates[i]
		if c.RuleID == "" {
			c.RuleID = r.ID()
		}
		if c.RuleID != r.ID() {
			return nil, &models.Diagnostic{RuleID: r.ID(), Err: fmt.Errorf("candidate claims rule %q", c.RuleID)}
		}
		if !c.Severity.IsValid() {
			return nil, &models.Diagnostic{RuleID: r.ID(), Err: fmt.Errorf("invalid severity %q", c.Severity)}
		}
		c.UserID = w.UserID
		c.Confidence = models.Clamp01(c.Confidence)
	}
	h.Buckets = scratch.Buckets
	h.UpdatedAt = scratch.UpdatedAt
	return candidates, nil
}

func sortedWindow(w models.Window) models.Window {
	less := func(a, b activity.Event) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	}
	if slices.IsSortedFunc(w.Events, less) {
		return w
	}
	events := slices.Clone(w.Events)
	slices.SortStableFunc(events, less)
	w.Events = events
	return w
}
