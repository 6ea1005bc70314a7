package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ConversationStore persists ConversationMemory records by conversation id.
// Implementations must be safe for concurrent use and must not retain
// the pointers passed to Save.
type ConversationStore interface {
	Get(ctx context.Context, conversationID string) (*ConversationMemory, error)
	Save(ctx context.Context, mem *ConversationMemory) error
	Delete(ctx context.Context, conversationID string) error
	// ListIdle returns the ids whose LastUpdatedAt is at or before cutoff.
	ListIdle(ctx context.Context, cutoff time.Time) ([]string, error)
}

// ProfileRepository persists user profiles and finalized conversation summaries.
type ProfileRepository interface {
	GetOrCreateProfile(ctx context.Context, userID, phoneNumber, pointOfSaleID string) (*UserProfile, error)
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)
	SaveProfile(ctx context.Context, profile *UserProfile) error
	SaveSummary(ctx context.Context, summary *ConversationSummary) error
	// ListSummaries returns up to limit summaries for userID, most recent first.
	ListSummaries(ctx context.Context, userID string, limit int) ([]ConversationSummary, error)
}

// InMemoryConversationStore keeps conversations in a process-local map.
type InMemoryConversationStore struct {
	mu    sync.RWMutex
	convs map[string]*ConversationMemory
}

func NewInMemoryConversationStore() *InMemoryConversationStore {
	return &InMemoryConversationStore{convs: make(map[string]*ConversationMemory)}
}

func (s *InMemoryConversationStore) Get(_ context.Context, conversationID string) (*ConversationMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mem, ok := s.convs[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return mem.clone(), nil
}

func (s *InMemoryConversationStore) Save(_ context.Context, mem *ConversationMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[mem.ConversationID] = mem.clone()
	return nil
}

func (s *InMemoryConversationStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, conversationID)
	return nil
}

func (s *InMemoryConversationStore) ListIdle(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, mem := range s.convs {
		if !mem.Metadata.LastUpdatedAt.After(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// InMemoryProfileRepository keeps profiles and summaries in process-local maps.
type InMemoryProfileRepository struct {
	mu        sync.RWMutex
	profiles  map[string]*UserProfile
	summaries map[string][]ConversationSummary
	now       func() time.Time
}

func NewInMemoryProfileRepository() *InMemoryProfileRepository {
	return &InMemoryProfileRepository{
		profiles:  make(map[string]*UserProfile),
		summaries: make(map[string][]ConversationSummary),
		now:       time.Now,
	}
}

func (r *InMemoryProfileRepository) GetOrCreateProfile(_ context.Context, userID, phoneNumber, pointOfSaleID string) (*UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		p = NewUserProfile(userID, phoneNumber, pointOfSaleID, r.now())
		r.profiles[userID] = p
	}
	return p.clone(), nil
}

func (r *InMemoryProfileRepository) GetProfile(_ context.Context, userID string) (*UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.clone(), nil
}

func (r *InMemoryProfileRepository) SaveProfile(_ context.Context, profile *UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.UserID] = profile.clone()
	return nil
}

func (r *InMemoryProfileRepository) SaveSummary(_ context.Context, summary *ConversationSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries[summary.UserID] = append(r.summaries[summary.UserID], summary.clone())
	return nil
}

func (r *InMemoryProfileRepository) ListSummaries(_ context.Context, userID string, limit int) ([]ConversationSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.summaries[userID]
	out := make([]ConversationSummary, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i].clone())
	}
	return out, nil
}
