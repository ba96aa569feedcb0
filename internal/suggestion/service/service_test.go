package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	activitymodels "focuswatch/internal/activity/models"
	"focuswatch/internal/activity/normalizer"
	activityservice "focuswatch/internal/activity/service"
	activitystore "focuswatch/internal/activity/store"
	feedbackmodels "focuswatch/internal/feedback/models"
	feedbackservice "focuswatch/internal/feedback/service"
	feedbackstore "focuswatch/internal/feedback/store"
	"focuswatch/internal/ranking"
	"focuswatch/internal/rules/detectors"
	"focuswatch/internal/rules/engine"
	"focuswatch/internal/rules/history"
	rules "focuswatch/internal/rules/models"
	"focuswatch/internal/suggestion/models"
	dErrors "focuswatch/pkg/domain-errors"
	audit "focuswatch/pkg/platform/audit"
	"focuswatch/pkg/platform/audit/publisher"
	auditmemory "focuswatch/pkg/platform/audit/store/memory"
	"focuswatch/pkg/requestcontext"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite
	ctx        context.Context
	logger     *slog.Logger
	activity   *activityservice.Service
	feedback   *feedbackservice.Service
	history    *history.InMemoryStore
	engine     *engine.Engine
	auditStore *auditmemory.InMemoryStore
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), t0.Add(5*time.Minute))
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	n, err := normalizer.New("salt")
	s.Require().NoError(err)
	s.activity = activityservice.New(activitystore.NewInMemoryStore(), n, activityservice.WithLogger(s.logger))
	s.feedback = feedbackservice.New(feedbackstore.NewInMemoryStore(), feedbackservice.WithLogger(s.logger))
	s.history = history.NewInMemoryStore()
	s.auditStore = auditmemory.NewInMemoryStore()

	ruleset, err := detectors.Build(detectors.DefaultConfig(), nil)
	s.Require().NoError(err)
	s.engine, err = engine.NewEngine(ruleset, engine.WithLogger(s.logger))
	s.Require().NoError(err)
}

func (s *ServiceSuite) newService(events EventSource, eval Evaluator, hist HistoryStore) *Service {
	svc := New(events, eval, hist, s.feedback, ranking.New(ranking.DefaultConfig()),
		WithLogger(s.logger),
		WithAuditor(publisher.NewPublisher(s.auditStore)),
	)
	s.feedback.SetSuggestionLookup(svc)
	return svc
}

// ingestSwitches stores n app switches 15s apart starting at t0.
func (s *ServiceSuite) ingestSwitches(n int) {
	apps := []string{"Code", "Browser", "Slack"}
	for i := range n {
		_, _, err := s.activity.IngestOne(s.ctx, activitymodels.RawEvent{
			UserID:    "u1",
			EventID:   fmt.Sprintf("s%02d", i),
			Timestamp: t0.Add(time.Duration(i) * 15 * time.Second).Format(time.RFC3339),
			Type:      string(activitymodels.TypeAppSwitch),
			Meta:      map[string]any{"app": apps[i%len(apps)]},
		})
		s.Require().NoError(err)
	}
}

func find(res *models.Result, ruleID string) *models.Suggestion {
	for i := range res.Suggestions {
		if res.Suggestions[i].RuleID == ruleID {
			return &res.Suggestions[i]
		}
	}
	return nil
}

func (s *ServiceSuite) auditActions() []string {
	events, err := s.auditStore.ListAll(s.ctx)
	s.Require().NoError(err)
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Action)
	}
	return out
}

// =============================================================================
// Pipeline
// =============================================================================

func (s *ServiceSuite) TestTwentyAppSwitchesYieldContextSwitchSuggestion() {
	s.ingestSwitches(20)
	svc := s.newService(s.activity, s.engine, s.history)

	res, err := svc.Suggestions(s.ctx, models.Query{UserID: "u1", Since: t0})
	s.Require().NoError(err)
	s.False(res.Stale)
	s.Empty(res.Diagnostics)

	cs := find(res, detectors.ContextSwitchID)
	s.Require().NotNil(cs)
	s.Equal(rules.SeverityHigh, cs.Severity)
	s.Len(cs.Evidence, 20)
	s.Equal(models.StatePending, cs.State)
	s.InDelta(8.0/12.0, cs.RawConfidence, 1e-9)
	s.InDelta(8.0/12.0, cs.Confidence, 0.01)

	count := 0
	for _, sg := range res.Suggestions {
		if sg.RuleID == detectors.ContextSwitchID {
			count++
		}
		s.GreaterOrEqual(sg.Confidence, 0.0)
		s.LessOrEqual(sg.Confidence, 1.0)
	}
	s.Equal(1, count)

	again, err := svc.Suggestions(s.ctx, models.Query{UserID: "u1", Since: t0})
	s.Require().NoError(err)
	s.Equal(res.Suggestions, again.Suggestions)
}

func (s *ServiceSuite) TestAcceptRaisesConfidenceAndMarksState() {
	s.ingestSwitches(20)
	svc := s.newService(s.activity, s.engine, s.history)

	before, err := svc.Suggestions(s.ctx, models.Query{UserID: "u1", Since: t0})
	s.Require().NoError(err)
	cs := find(before, detectors.ContextSwitchID)
	s.Require().NotNil(cs)

	// rule_id omitted: resolved from the last ranked list.
	action, err := s.feedback.Record(s.ctx, feedbackmodels.RecordRequest{
		UserID:       "u1",
		SuggestionID: cs.ID,
		Action:       "accept",
	})
	s.Require().NoError(err)
	s.Equal(detectors.ContextSwitchID, action.RuleID)

	after, err := svc.Suggestions(s.ctx, models.Query{UserID: "u1", Since: t0})
	s.Require().NoError(err)
	updated := find(after, detectors.ContextSwitchID)
	s.Require().NotNil(updated)
	s.Equal(cs.ID, updated.ID)
	s.Equal(models.StateAccepted, updated.State)
	s.False(updated.AutoExecutable)
	s.True(updated.Features.HasHistory)
	s.InDelta(cs.Confidence+0.2, updated.Confidence, 1e-9)
}

func (s *ServiceSuite) TestDefaultsToLookbackWindow() {
	s.ingestSwitches(20)
	svc := New(s.activity, s.engine, s.history, s.feedback, ranking.New(ranking.DefaultConfig()),
		WithLogger(s.logger),
		WithLookback(time.Minute),
	)

	res, err := svc.Suggestions(s.ctx, models.Query{UserID: "u1"})
	s.Require().NoError(err)
	s.Nil(find(res, detectors.ContextSwitchID), "only four switches fall in the last minute")
}

func (s *ServiceSuite) TestQueryValidation() {
	svc := s.newService(s.activity, s.engine, s.history)

	_, err := svc.Suggestions(s.ctx, models.Query{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = svc.Suggestions(s.ctx, models.Query{UserID: "u1", Since: t0, Until: t0})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

// =============================================================================
// Degraded stores
// =============================================================================

// flakySource fails with an unavailable error while down is set.
type flakySource struct {
	next EventSource
	down atomic.Bool
}

func (f *flakySource) Window(ctx context.Context, userID string, since, until time.Time) ([]activitymodels.Event, error) {
	if f.down.Load() {
		return nil, dErrors.Wrap(errors.New("connection refused"), dErrors.CodeUnavailable, "event store unavailable")
	}
	return f.next.Window(ctx, userID, since, until)
}

func (s *ServiceSuite) TestServesLastKnownGoodWhenStoreDown() {
	s.ingestSwitches(20)
	source := &flakySource{next: s.activity}
	svc := s.newService(source, s.engine, s.history)

	fresh, err := svc.Suggestions(s.ctx, models.Query{UserID: "u1", Since: t0})
	s.Require().NoError(err)
	s.Require().NotEmpty(fresh.Suggestions)

	source.down.Store(true)
	stale, err := svc.Suggestions(s.ctx, models.Query{UserID: "u1", Since: t0})
	s.Require().NoError(err)
	s.True(stale.Stale)
	s.Equal(fresh.Suggestions, stale.Suggestions)
	s.Equal(fresh.GeneratedAt, stale.GeneratedAt)
	s.Contains(s.auditActions(), string(audit.EventSuggestionsServedStale))
}

func (s *ServiceSuite) TestUnavailableWithoutCachedList() {
	source := &flakySource{next: s.activity}
	source.down.Store(true)
	svc := s.newService(source, s.engine, s.history)

	res, err := svc.Suggestions(s.ctx, models.Query{UserID: "u1", Since: t0})
	s.Nil(res)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *ServiceSuite) TestStaleListIsPerUser() {
	s.ingestSwitches(20)
	source := &flakySource{next: s.activity}
	svc := s.newService(source, s.engine, s.history)

	_, err := svc.Suggestions(s.ctx, models.Query{UserID: "u1", Since: t0})
	s.Require().NoError(err)

	source.down.Store(true)
	_, err = svc.Suggestions(s.ctx, models.Query{UserID: "u2", Since: t0})
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	svc.Forget("u1")
	_, err = svc.Suggestions(s.ctx, models.Query{UserID: "u1", Since: t0})
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

type failingHistory struct {
	saves atomic.Int32
}

func (f *failingHistory) Load(context.Context, string) (*rules.History, error) {
	return nil, errors.New("redis: connection refused")
}

func (f *failingHistory) Save(context.Context, *rules.History) error {
	f.saves.Add(1)
	return nil
}

func (s *ServiceSuite) TestHistoryOutageDoesNotFailQuery() {
	s.ingestSwitches(20)
	hist := &failingHistory{}
	svc := s.newService(s.activity, s.engine, hist)

	res, err := svc.Suggestions(s.ctx, models.Query{UserID: "u1", Since: t0})
	s.Require().NoError(err)
	s.NotNil(find(res, detectors.ContextSwitchID))
	s.Zero(hist.saves.Load(), "a fresh history must not overwrite the stored one")
}

// =============================================================================
// Rule failures
// =============================================================================

type brokenRule struct{}

func (brokenRule) ID() string          { return "broken" }
func (brokenRule) Description() string { return "always panics" }
func (brokenRule) Detect(rules.Window, *rules.History) ([]rules.Candidate, error) {
	panic("index out of range")
}

func (s *ServiceSuite) TestRuleFailureIsReportedNotPropagated() {
	s.ingestSwitches(20)
	ruleset, err := detectors.Build(detectors.DefaultConfig(), nil)
	s.Require().NoError(err)
	eng, err := engine.NewEngine(append([]engine.Rule{brokenRule{}}, ruleset...), engine.WithLogger(s.logger))
	s.Require().NoError(err)
	svc := s.newService(s.activity, eng, s.history)

	res, err := svc.Suggestions(s.ctx, models.Query{UserID: "u1", Since: t0})
	s.Require().NoError(err)
	s.Require().Len(res.Diagnostics, 1)
	s.Contains(res.Diagnostics[0], "broken")
	s.NotNil(find(res, detectors.ContextSwitchID))
	s.Contains(s.auditActions(), string(audit.EventRuleFailed))
}

// =============================================================================
// Lookup
// =============================================================================

func (s *ServiceSuite) TestLookupRule() {
	s.ingestSwitches(20)
	svc := s.newService(s.activity, s.engine, s.history)

	_, ok := svc.LookupRule(s.ctx, "u1", "missing")
	s.False(ok)

	res, err := svc.Suggestions(s.ctx, models.Query{UserID: "u1", Since: t0})
	s.Require().NoError(err)
	for _, sg := range res.Suggestions {
		ruleID, ok := svc.LookupRule(s.ctx, "u1", sg.ID)
		s.True(ok)
		s.Equal(sg.RuleID, ruleID)
	}
	_, ok = svc.LookupRule(s.ctx, "u2", res.Suggestions[0].ID)
	s.False(ok)
}
