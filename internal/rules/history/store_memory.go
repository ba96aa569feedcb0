// Package history persists per-user rule state between evaluations.
package history

import (
	"context"
	"sync"

	"focuswatch/internal/rules/models"
)

// InMemoryStore keeps histories in a map. Values are cloned on the way in
// and out so callers never share state.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[string]*models.History
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{users: make(map[string]*models.History)}
}

// Load returns the stored history, or a fresh one when the user has none.
func (s *InMemoryStore) Load(_ context.Context, userID string) (*models.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.users[userID]; ok {
		return h.Clone(), nil
	}
	return models.NewHistory(userID), nil
}

func (s *InMemoryStore) Save(_ context.Context, h *models.History) error {
	if h == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[h.UserID] = h.Clone()
	return nil
}
