package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	_ "modernc.org/sqlite"

	"focuswatch/internal/activity/models"
	"focuswatch/internal/platform/database"
)

// eventStore is the behaviour shared by every backend.
type eventStore interface {
	Put(ctx context.Context, e models.Event) (models.PutResult, error)
	Query(ctx context.Context, p models.QueryParams) (*models.Page, error)
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	Stats(ctx context.Context, userID string) (*models.Stats, error)
}

type StoreContractSuite struct {
	suite.Suite
	newStore func(t *testing.T) eventStore
	store    eventStore
	ctx      context.Context
	t0       time.Time
}

func TestInMemoryStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(*testing.T) eventStore {
		return NewInMemoryStore()
	}})
}

func TestSQLiteStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) eventStore {
		db, err := sql.Open("sqlite", "file::memory:")
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = db.Close() })
		if err := database.Migrate(context.Background(), db); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return NewSQL(db)
	}})
}

func (s *StoreContractSuite) SetupTest() {
	s.store = s.newStore(s.T())
	s.ctx = context.Background()
	s.t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *StoreContractSuite) event(userID, id string, offset time.Duration) models.Event {
	return models.Event{
		ID:        id,
		UserID:    userID,
		Timestamp: s.t0.Add(offset),
		Type:      models.TypeAppSwitch,
		Meta:      map[string]string{"app": "Code"},
	}
}

func (s *StoreContractSuite) all(userID string) []models.Event {
	page, err := s.store.Query(s.ctx, models.QueryParams{UserID: userID, Limit: models.MaxPageLimit})
	s.Require().NoError(err)
	return page.Events
}

// =============================================================================
// Put
// =============================================================================

func (s *StoreContractSuite) TestPutIsIdempotent() {
	e := s.event("u1", "e1", 0)

	res, err := s.store.Put(s.ctx, e)
	s.Require().NoError(err)
	s.Equal(models.PutStored, res)

	res, err = s.store.Put(s.ctx, e)
	s.Require().NoError(err)
	s.Equal(models.PutDuplicate, res)

	events := s.all("u1")
	s.Require().Len(events, 1)
	s.Equal("e1", events[0].ID)
	s.Equal("Code", events[0].Meta["app"])
}

func (s *StoreContractSuite) TestSameIDDifferentUsersAreDistinct() {
	_, err := s.store.Put(s.ctx, s.event("u1", "e1", 0))
	s.Require().NoError(err)
	res, err := s.store.Put(s.ctx, s.event("u2", "e1", 0))
	s.Require().NoError(err)
	s.Equal(models.PutStored, res)
}

func (s *StoreContractSuite) TestConcurrentPutsStoreOnce() {
	const producers = 16
	var (
		wg     sync.WaitGroup
		stored atomic.Int32
	)
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 10 {
				res, err := s.store.Put(s.ctx, s.event("u1", fmt.Sprintf("e%d", i), time.Duration(i)*time.Second))
				s.NoError(err)
				if res == models.PutStored {
					stored.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(10), stored.Load())
	s.Len(s.all("u1"), 10)
}

// =============================================================================
// Query
// =============================================================================

func (s *StoreContractSuite) TestQueryOrdersOutOfOrderArrivals() {
	for _, e := range []models.Event{
		s.event("u1", "c", 2*time.Minute),
		s.event("u1", "b", 0),
		s.event("u1", "a", 0),
		s.event("u1", "d", time.Minute),
	} {
		_, err := s.store.Put(s.ctx, e)
		s.Require().NoError(err)
	}

	var ids []string
	for _, e := range s.all("u1") {
		ids = append(ids, e.ID)
	}
	s.Equal([]string{"a", "b", "d", "c"}, ids)
}

func (s *StoreContractSuite) TestQueryRange() {
	for i := range 5 {
		_, err := s.store.Put(s.ctx, s.event("u1", fmt.Sprintf("e%d", i), time.Duration(i)*time.Minute))
		s.Require().NoError(err)
	}

	page, err := s.store.Query(s.ctx, models.QueryParams{
		UserID: "u1",
		Since:  s.t0.Add(time.Minute),
		Until:  s.t0.Add(3 * time.Minute),
	})
	s.Require().NoError(err)
	s.Require().Len(page.Events, 2, "since is inclusive, until exclusive")
	s.Equal("e1", page.Events[0].ID)
	s.Equal("e2", page.Events[1].ID)
	s.Empty(page.NextCursor)
}

func (s *StoreContractSuite) TestQueryPaginatesWithCursor() {
	for i := range 7 {
		// Pairs share a timestamp so the cursor must break ties by id.
		_, err := s.store.Put(s.ctx, s.event("u1", fmt.Sprintf("e%d", i), time.Duration(i/2)*time.Second))
		s.Require().NoError(err)
	}

	var (
		ids    []string
		cursor string
		pages  int
	)
	for {
		page, err := s.store.Query(s.ctx, models.QueryParams{UserID: "u1", Cursor: cursor, Limit: 3})
		s.Require().NoError(err)
		pages++
		for _, e := range page.Events {
			ids = append(ids, e.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	s.Equal([]string{"e0", "e1", "e2", "e3", "e4", "e5", "e6"}, ids)
	s.Equal(3, pages)
}

func (s *StoreContractSuite) TestQueryRejectsGarbageCursor() {
	_, err := s.store.Query(s.ctx, models.QueryParams{UserID: "u1", Cursor: "%%%"})
	s.Error(err)
}

// =============================================================================
// Prune & Stats
// =============================================================================

func (s *StoreContractSuite) TestPruneRemovesOlderEvents() {
	_, err := s.store.Put(s.ctx, s.event("u1", "old", -31*24*time.Hour))
	s.Require().NoError(err)
	_, err = s.store.Put(s.ctx, s.event("u2", "old", -40*24*time.Hour))
	s.Require().NoError(err)
	_, err = s.store.Put(s.ctx, s.event("u1", "new", 0))
	s.Require().NoError(err)

	removed, err := s.store.Prune(s.ctx, s.t0.Add(-30*24*time.Hour))
	s.Require().NoError(err)
	s.Equal(2, removed)

	events := s.all("u1")
	s.Require().Len(events, 1)
	s.Equal("new", events[0].ID)
	s.Empty(s.all("u2"))

	// A pruned id may be ingested again.
	res, err := s.store.Put(s.ctx, s.event("u1", "old", 0))
	s.Require().NoError(err)
	s.Equal(models.PutStored, res)
}

func (s *StoreContractSuite) TestStats() {
	stats, err := s.store.Stats(s.ctx, "nobody")
	s.Require().NoError(err)
	s.Zero(stats.Count)
	s.Nil(stats.LastEventAt)

	_, err = s.store.Put(s.ctx, s.event("u1", "a", time.Minute))
	s.Require().NoError(err)
	_, err = s.store.Put(s.ctx, s.event("u1", "b", 0))
	s.Require().NoError(err)

	stats, err = s.store.Stats(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(2, stats.Count)
	s.Require().NotNil(stats.LastEventAt)
	s.True(s.t0.Add(time.Minute).Equal(*stats.LastEventAt))
}
