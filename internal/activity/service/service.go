package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"focuswatch/internal/activity/metrics"
	"focuswatch/internal/activity/models"
	"focuswatch/internal/ingestlimit"
	dErrors "focuswatch/pkg/domain-errors"
	audit "focuswatch/pkg/platform/audit"
	"focuswatch/pkg/platform/circuit"
	"focuswatch/pkg/platform/sentinel"
	"focuswatch/pkg/requestcontext"
)

// Store persists normalized events.
type Store interface {
	Put(ctx context.Context, e models.Event) (models.PutResult, error)
	Query(ctx context.Context, p models.QueryParams) (*models.Page, error)
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	Stats(ctx context.Context, userID string) (*models.Stats, error)
}

// Normalizer validates and minimizes raw payloads.
type Normalizer interface {
	Normalize(raw models.RawEvent) (models.Event, error)
}

// Limiter throttles ingestion per user.
type Limiter interface {
	Allow(ctx context.Context, userID string, cost int) (*ingestlimit.Result, error)
}

const (
	defaultStoreTimeout = 2 * time.Second
	defaultPruneTimeout = 2 * time.Minute
	// maxWindowEvents bounds the events handed to rule evaluation; the oldest
	// are dropped first since every rule looks at trailing windows.
	maxWindowEvents = 20_000
)

// Service is the single entry point for ingesting, reading and pruning events.
// All store calls run under a timeout and behind a circuit breaker; ingestion
// fails closed when the store is unavailable.
type Service struct {
	store        Store
	normalizer   Normalizer
	limiter      Limiter
	auditor      audit.Emitter
	breaker      *circuit.Breaker
	metrics      *metrics.Metrics
	logger       *slog.Logger
	storeTimeout time.Duration
	pruneTimeout time.Duration
	pruneGroup   singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditor(a audit.Emitter) Option {
	return func(s *Service) { s.auditor = a }
}

func WithLimiter(l Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		if b != nil {
			s.breaker = b
		}
	}
}

func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func WithPruneTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pruneTimeout = d
		}
	}
}

func New(store Store, normalizer Normalizer, opts ...Option) *Service {
	s := &Service{
		store:        store,
		normalizer:   normalizer,
		logger:       slog.Default(),
		breaker:      circuit.New("event-store", circuit.WithCooldown(5*time.Second)),
		storeTimeout: defaultStoreTimeout,
		pruneTimeout: defaultPruneTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ItemStatus is the per-event outcome of a batch ingest.
type ItemStatus string

const (
	ItemStored    ItemStatus = "stored"
	ItemDuplicate ItemStatus = "duplicate"
	ItemInvalid   ItemStatus = "invalid"
)

type ItemResult struct {
	Index   int
	EventID string
	Status  ItemStatus
	Error   string
}

type BatchResult struct {
	Stored     int
	Duplicates int
	Invalid    int
	Results    []ItemResult
}

// IngestOne normalizes and stores a single event. Validation failures are
// returned as errors.
func (s *Service) IngestOne(ctx context.Context, raw models.RawEvent) (models.PutResult, *models.Event, error) {
	event, err := s.normalizer.Normalize(raw)
	if err != nil {
		s.metrics.IncrementOutcome("invalid", 1)
		return "", nil, err
	}
	if err := s.admit(ctx, []models.Event{event}); err != nil {
		return "", nil, err
	}
	res, err := s.put(ctx, event)
	if err != nil {
		return "", nil, err
	}
	return res, &event, nil
}

// IngestBatch normalizes every payload, reporting invalid ones per item, and
// stores the valid ones in order. A store failure aborts the batch; events
// stored before it stay stored and a retry deduplicates them.
func (s *Service) IngestBatch(ctx context.Context, raws []models.RawEvent) (*BatchResult, error) {
	result := &BatchResult{Results: make([]ItemResult, len(raws))}
	valid := make([]models.Event, 0, len(raws))
	index := make([]int, 0, len(raws))

	for i, raw := range raws {
		event, err := s.normalizer.Normalize(raw)
		if err != nil {
			result.Invalid++
			result.Results[i] = ItemResult{Index: i, EventID: raw.EventID, Status: ItemInvalid, Error: errorMessage(err)}
			continue
		}
		valid = append(valid, event)
		index = append(index, i)
	}
	s.metrics.IncrementOutcome("invalid", result.Invalid)

	if err := s.admit(ctx, valid); err != nil {
		return nil, err
	}

	for j, event := range valid {
		res, err := s.put(ctx, event)
		if err != nil {
			return nil, err
		}
		status := ItemStored
		if res == models.PutDuplicate {
			status = ItemDuplicate
			result.Duplicates++
		} else {
			result.Stored++
		}
		result.Results[index[j]] = ItemResult{Index: index[j], EventID: event.ID, Status: status}
	}
	return result, nil
}

// admit charges each user's ingest budget for their share of the batch.
func (s *Service) admit(ctx context.Context, events []models.Event) error {
	if s.limiter == nil || len(events) == 0 {
		return nil
	}
	costs := make(map[string]int)
	order := make([]string, 0)
	for _, e := range events {
		if _, seen := costs[e.UserID]; !seen {
			order = append(order, e.UserID)
		}
		costs[e.UserID]++
	}
	for _, userID := range order {
		res, err := s.limiter.Allow(ctx, userID, costs[userID])
		if err != nil {
			// Throttling is protective, not a correctness gate.
			s.logger.WarnContext(ctx, "ingest limiter unavailable, admitting",
				"user_id", userID,
				"error", err,
			)
			continue
		}
		if !res.Allowed {
			s.metrics.IncrementOutcome("rate_limited", len(events))
			s.emit(ctx, audit.Event{
				UserID: userID,
				Action: string(audit.EventIngestRateLimited),
				Count:  costs[userID],
			})
			return dErrors.New(dErrors.CodeRateLimited,
				fmt.Sprintf("ingest rate limit exceeded, retry after %s", res.ResetAt.UTC().Format(time.RFC3339)))
		}
	}
	return nil
}

func (s *Service) put(ctx context.Context, event models.Event) (models.PutResult, error) {
	var res models.PutResult
	err := s.callStore(ctx, "put", s.storeTimeout, func(ctx context.Context) error {
		var err error
		res, err = s.store.Put(ctx, event)
		return err
	})
	if err != nil {
		s.metrics.IncrementOutcome("failed", 1)
		s.logger.ErrorContext(ctx, "event ingest failed closed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", event.UserID,
			"event_id", event.ID,
			"error", err,
		)
		return "", err
	}
	s.metrics.IncrementOutcome(string(res), 1)
	return res, nil
}

// Events returns one page of a user's events.
func (s *Service) Events(ctx context.Context, p models.QueryParams) (*models.Page, error) {
	if p.UserID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	if !p.Since.IsZero() && !p.Until.IsZero() && !p.Since.Before(p.Until) {
		return nil, dErrors.New(dErrors.CodeValidation, "since must be before until")
	}
	var page *models.Page
	err := s.callStore(ctx, "query", s.storeTimeout, func(ctx context.Context) error {
		var err error
		page, err = s.store.Query(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Window returns every event of userID in [since, until), ascending, capped
// at the most recent maxWindowEvents.
func (s *Service) Window(ctx context.Context, userID string, since, until time.Time) ([]models.Event, error) {
	p := models.QueryParams{UserID: userID, Since: since, Until: until, Limit: models.MaxPageLimit}
	var events []models.Event
	for {
		page, err := s.Events(ctx, p)
		if err != nil {
			return nil, err
		}
		events = append(events, page.Events...)
		if len(events) > maxWindowEvents {
			events = events[len(events)-maxWindowEvents:]
		}
		if page.NextCursor == "" {
			return events, nil
		}
		p.Cursor = page.NextCursor
	}
}

// Stats summarizes a user's stored events.
func (s *Service) Stats(ctx context.Context, userID string) (*models.Stats, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	var stats *models.Stats
	err := s.callStore(ctx, "stats", s.storeTimeout, func(ctx context.Context) error {
		var err error
		stats, err = s.store.Stats(ctx, userID)
		return err
	})
	return stats, err
}

// Prune removes events older than cutoff. Concurrent callers share a single
// in-flight run.
func (s *Service) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	v, err, _ := s.pruneGroup.Do("prune", func() (any, error) {
		var removed int
		err := s.callStore(ctx, "prune", s.pruneTimeout, func(ctx context.Context) error {
			var err error
			removed, err = s.store.Prune(ctx, cutoff)
			return err
		})
		if err != nil {
			return removed, err
		}
		s.metrics.AddPruned(removed)
		s.logger.InfoContext(ctx, "events pruned",
			"cutoff", cutoff,
			"removed", removed,
		)
		s.emit(ctx, audit.Event{
			Subject: "events",
			Action:  string(audit.EventRetentionPruned),
			Count:   removed,
		})
		return removed, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// callStore runs fn behind the breaker with a timeout. Failures are mapped to
// CodeUnavailable unless they are the caller's own validation errors.
func (s *Service) callStore(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if !s.breaker.Allow() {
		s.metrics.IncrementStoreError(op)
		return dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeUnavailable, "event store unavailable")
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	err := fn(callCtx)
	s.metrics.ObserveStoreLatency(op, time.Since(start))

	if err == nil {
		if _, change := s.breaker.RecordSuccess(); change.Closed {
			s.metrics.SetBreakerOpen(false)
			s.logger.InfoContext(ctx, "event store breaker closed", "op", op)
		}
		return nil
	}
	if dErrors.HasCode(err, dErrors.CodeValidation) {
		return err
	}
	if ctx.Err() != nil {
		return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "request cancelled")
	}

	s.metrics.IncrementStoreError(op)
	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.metrics.SetBreakerOpen(true)
		s.logger.WarnContext(ctx, "event store breaker opened", "op", op, "error", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "event store timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "event store unavailable")
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
