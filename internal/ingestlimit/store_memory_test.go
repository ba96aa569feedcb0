package ingestlimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	testLimit  = 10
	testWindow = time.Minute
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	now   time.Time
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewInMemoryStore()
	s.store.now = func() time.Time { return s.now }
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) TestAllowN() {
	s.Run("first request allowed", func() {
		result, err := s.store.AllowN(s.ctx, "k:first", 1, testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit-1, result.Remaining)
	})

	s.Run("batch cost counts every event", func() {
		result, err := s.store.AllowN(s.ctx, "k:batch", 7, testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(3, result.Remaining)

		result, err = s.store.AllowN(s.ctx, "k:batch", 4, testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed, "a batch that does not fit is rejected whole")
	})

	s.Run("window slides", func() {
		_, err := s.store.AllowN(s.ctx, "k:slide", testLimit, testLimit, testWindow)
		s.Require().NoError(err)

		result, err := s.store.AllowN(s.ctx, "k:slide", 1, testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)

		s.now = s.now.Add(testWindow + time.Second)
		result, err = s.store.AllowN(s.ctx, "k:slide", 1, testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
	})
}

func (s *InMemoryStoreSuite) TestConcurrentAllowNeverExceedsLimit() {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.AllowN(s.ctx, "k:concurrent", 1, testLimit, testWindow)
			s.NoError(err)
			if result.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(testLimit, allowed)
}

func (s *InMemoryStoreSuite) TestLimiter() {
	s.Run("zero limit disables throttling", func() {
		l := NewLimiter(s.store, 0, testWindow)
		result, err := l.Allow(s.ctx, "user-1", 1_000)
		s.Require().NoError(err)
		s.True(result.Allowed)
	})

	s.Run("keys escape separators", func() {
		s.Equal("ingest:a_b", Key("a:b"))
	})
}
