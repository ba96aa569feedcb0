package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"focuswatch/internal/activity/models"
)

// InMemoryStore keeps events per user, sorted by (timestamp, id). Each user
// shard has its own lock so ingestion for different users does not contend.
type InMemoryStore struct {
	mu     sync.RWMutex
	shards map[string]*shard
}

type shard struct {
	mu     sync.RWMutex
	events []models.Event
	ids    map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{shards: make(map[string]*shard)}
}

func (s *InMemoryStore) shardFor(userID string, create bool) *shard {
	s.mu.RLock()
	sh := s.shards[userID]
	s.mu.RUnlock()
	if sh != nil || !create {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh = s.shards[userID]; sh == nil {
		sh = &shard{ids: make(map[string]struct{})}
		s.shards[userID] = sh
	}
	return sh
}

// Put inserts the event unless (UserID, ID) is already present. The check and
// insert happen under the shard lock.
func (s *InMemoryStore) Put(_ context.Context, e models.Event) (models.PutResult, error) {
	sh := s.shardFor(e.UserID, true)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.ids[e.ID]; exists {
		return models.PutDuplicate, nil
	}
	e.Meta = cloneMeta(e.Meta)
	i := sort.Search(len(sh.events), func(i int) bool { return e.Before(sh.events[i]) })
	sh.events = append(sh.events, models.Event{})
	copy(sh.events[i+1:], sh.events[i:])
	sh.events[i] = e
	sh.ids[e.ID] = struct{}{}
	return models.PutStored, nil
}

func (s *InMemoryStore) Query(_ context.Context, p models.QueryParams) (*models.Page, error) {
	pos, err := decodeCursor(p.Cursor)
	if err != nil {
		return nil, err
	}
	limit := models.EffectiveLimit(p.Limit)
	since, until := bounds(p)

	sh := s.shardFor(p.UserID, false)
	if sh == nil {
		return &models.Page{Events: []models.Event{}}, nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	start := sort.Search(len(sh.events), func(i int) bool {
		return sh.events[i].Timestamp.UnixNano() >= since
	})
	out := make([]models.Event, 0, min(limit, len(sh.events)-start))
	next := ""
	for _, e := range sh.events[start:] {
		if e.Timestamp.UnixNano() >= until {
			break
		}
		if pos != nil && !pos.after(e) {
			continue
		}
		if len(out) == limit {
			next = EncodeCursor(out[len(out)-1])
			break
		}
		e.Meta = cloneMeta(e.Meta)
		out = append(out, e)
	}
	return &models.Page{Events: out, NextCursor: next}, nil
}

// Prune removes events older than cutoff. Each shard is pruned under its own
// lock, so a cancelled prune leaves every shard either pruned or untouched.
func (s *InMemoryStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.RLock()
	shards := make([]*shard, 0, len(s.shards))
	for _, sh := range s.shards {
		shards = append(shards, sh)
	}
	s.mu.RUnlock()

	removed := 0
	for _, sh := range shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh.mu.Lock()
		keep := sort.Search(len(sh.events), func(i int) bool {
			return !sh.events[i].Timestamp.Before(cutoff)
		})
		for _, e := range sh.events[:keep] {
			delete(sh.ids, e.ID)
		}
		sh.events = append([]models.Event(nil), sh.events[keep:]...)
		removed += keep
		sh.mu.Unlock()
	}
	return removed, nil
}

func (s *InMemoryStore) Stats(_ context.Context, userID string) (*models.Stats, error) {
	stats := &models.Stats{UserID: userID}
	sh := s.shardFor(userID, false)
	if sh == nil {
		return stats, nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	stats.Count = len(sh.events)
	if n := len(sh.events); n > 0 {
		last := sh.events[n-1].Timestamp
		stats.LastEventAt = &last
	}
	return stats, nil
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
