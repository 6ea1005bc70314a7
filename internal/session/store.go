package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists sessions by conversation id. Implementations must be safe
// for concurrent use and must not retain the pointers passed to Save.
type Store interface {
	Get(ctx context.Context, conversationID string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, conversationID string) error
	// ListIdle returns the ids whose LastActivityAt is at or before cutoff.
	ListIdle(ctx context.Context, cutoff time.Time) ([]string, error)
}

// InMemoryStore keeps sessions in a process-local map.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*Session)}
}

func (m *InMemoryStore) Get(_ context.Context, conversationID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.clone(), nil
}

func (m *InMemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ConversationID] = s.clone()
	return nil
}

func (m *InMemoryStore) Delete(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, conversationID)
	return nil
}

func (m *InMemoryStore) ListIdle(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, s := range m.sessions {
		if !s.LastActivityAt.After(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
