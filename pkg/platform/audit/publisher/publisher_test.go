package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	audit "focuswatch/pkg/platform/audit"
	"focuswatch/pkg/platform/audit/store/memory"
)

// gatedStore blocks Append until release is closed.
type gatedStore struct {
	*memory.InMemoryStore
	release chan struct{}
}

func (s *gatedStore) Append(ctx context.Context, e audit.Event) error {
	<-s.release
	return s.InMemoryStore.Append(ctx, e)
}

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("outbox insert failed")
}

type PublisherSuite struct {
	suite.Suite
	ctx   context.Context
	store *memory.InMemoryStore
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

func (s *PublisherSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewInMemoryStore()
}

func accepted(userID string) audit.Event {
	return audit.Event{UserID: userID, Subject: "sg-1", RuleID: "context_switch", Action: string(audit.EventSuggestionAccepted)}
}

func (s *PublisherSuite) TestSyncEmitIsVisibleImmediately() {
	pub := NewPublisher(s.store)
	s.Require().NoError(pub.Emit(s.ctx, accepted("u1")))

	events, err := pub.List(s.ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(audit.CategoryFeedback, events[0].Category)
	s.False(events[0].Timestamp.IsZero())
}

func (s *PublisherSuite) TestSyncEmitReturnsStoreError() {
	pub := NewPublisher(failingStore{})
	s.Error(pub.Emit(s.ctx, accepted("u1")))

	_, err := pub.List(s.ctx, "u1")
	s.Error(err, "store without listing support")
}

func (s *PublisherSuite) TestKeepsCallerTimestampAndCategory() {
	pub := NewPublisher(s.store)
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s.Require().NoError(pub.Emit(s.ctx, audit.Event{
		Timestamp: at,
		Category:  audit.CategorySecurity,
		Action:    string(audit.EventRetentionPruned),
		Subject:   "events",
		Count:     12,
	}))

	all, err := s.store.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal(at, all[0].Timestamp)
	s.Equal(audit.CategorySecurity, all[0].Category)
}

func (s *PublisherSuite) TestDerivesCategoryFromAction() {
	pub := NewPublisher(s.store)
	for _, action := range []audit.AuditEvent{
		audit.EventSuggestionRejected,
		audit.EventIngestRateLimited,
		audit.EventSuggestionsServedStale,
		"unknown_action",
	} {
		s.Require().NoError(pub.Emit(s.ctx, audit.Event{Action: string(action)}))
	}

	all, err := s.store.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 4)
	s.Equal(audit.CategoryFeedback, all[0].Category)
	s.Equal(audit.CategorySecurity, all[1].Category)
	s.Equal(audit.CategoryOperations, all[2].Category)
	s.Equal(audit.CategoryOperations, all[3].Category)
}

func (s *PublisherSuite) TestAsyncCloseDrainsBuffer() {
	pub := NewPublisher(s.store, WithAsyncBuffer(16))
	for range 10 {
		s.Require().NoError(pub.Emit(s.ctx, accepted("u1")))
	}
	pub.Close()
	pub.Close()

	events, err := s.store.ListByUser(s.ctx, "u1")
	s.Require().NoError(err)
	s.Len(events, 10)
}

func (s *PublisherSuite) TestAsyncDropsWhenBufferFull() {
	gated := &gatedStore{InMemoryStore: s.store, release: make(chan struct{})}
	pub := NewPublisher(gated, WithAsyncBuffer(1))

	// The drain goroutine holds at most one event while blocked, the buffer
	// one more; everything past that is dropped.
	var dropped int
	for range 5 {
		if errors.Is(pub.Emit(s.ctx, accepted("u1")), ErrBufferFull) {
			dropped++
		}
	}
	s.GreaterOrEqual(dropped, 3)

	close(gated.release)
	pub.Close()
	events, err := s.store.ListByUser(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(5-dropped, len(events))
}

func (s *PublisherSuite) TestAsyncEmitHonoursCancelledContext() {
	gated := &gatedStore{InMemoryStore: s.store, release: make(chan struct{})}
	pub := NewPublisher(gated, WithAsyncBuffer(1))
	defer func() {
		close(gated.release)
		pub.Close()
	}()

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	var lastErr error
	for range 3 {
		lastErr = pub.Emit(ctx, accepted("u1"))
	}
	s.ErrorIs(lastErr, context.Canceled)
}
