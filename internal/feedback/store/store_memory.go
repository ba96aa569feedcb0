// Package store persists feedback actions and the per-rule counters derived
// from them.
package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"focuswatch/internal/feedback/models"
	"focuswatch/pkg/platform/sentinel"
)

type actionKey struct {
	userID       string
	suggestionID string
}

// InMemoryStore keeps actions and counters under one lock so a recorded
// action and its counter increment are observed together.
type InMemoryStore struct {
	mu       sync.RWMutex
	actions  map[actionKey]models.Action
	counters map[string]*models.Counts
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		actions:  make(map[actionKey]models.Action),
		counters: make(map[string]*models.Counts),
	}
}

// Record inserts the action if none exists for its (user, suggestion) pair.
func (s *InMemoryStore) Record(_ context.Context, a models.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := actionKey{userID: a.UserID, suggestionID: a.SuggestionID}
	if _, exists := s.actions[key]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.actions[key] = a

	c, ok := s.counters[a.RuleID]
	if !ok {
		c = &models.Counts{RuleID: a.RuleID}
		s.counters[a.RuleID] = c
	}
	c.Add(a.Kind)
	return nil
}

func (s *InMemoryStore) Counts(_ context.Context, ruleID string) (models.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.counters[ruleID]; ok {
		return *c, nil
	}
	return models.Counts{RuleID: ruleID}, nil
}

// ListByUser returns the user's actions oldest first.
func (s *InMemoryStore) ListByUser(_ context.Context, userID string) ([]models.Action, error) {
	s.mu.RLock()
	out := make([]models.Action, 0)
	for key, a := range s.actions {
		if key.userID == userID {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sortActions(out)
	return out, nil
}

// Prune deletes actions older than cutoff. Counters are kept so acceptance
// rates survive retention.
func (s *InMemoryStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, a := range s.actions {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if a.Timestamp.Before(cutoff) {
			delete(s.actions, key)
			removed++
		}
	}
	return removed, nil
}

func sortActions(actions []models.Action) {
	slices.SortFunc(actions, func(a, b models.Action) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
