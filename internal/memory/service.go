package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/refaxbot/refaxbot/internal/keylock"
)

// Service owns every ConversationMemory and UserProfile. Callers only see
// copies; all mutation goes through its methods.
//
// Service does not serialize turns itself. The orchestrator holds the
// conversation lock from locks for the whole turn, and CleanupStale uses the
// same locks to skip conversations that are mid-turn. Profiles are shared by
// every conversation of a user and are rewritten under their own lock,
// always taken after the conversation lock.
type Service struct {
	conversations ConversationStore
	profiles      ProfileRepository
	locks         *keylock.Map
	now           func() time.Time
}

// NewService creates a new memory Service.
func NewService(conversations ConversationStore, profiles ProfileRepository, locks *keylock.Map) *Service {
	return &Service{
		conversations: conversations,
		profiles:      profiles,
		locks:         locks,
		now:           time.Now,
	}
}

// Initialize creates a fresh memory for conversationID wired to the user's
// profile (created on first contact) and their most recent summaries.
// Re-initializing an existing id replaces it with a fresh memory.
func (s *Service) Initialize(ctx context.Context, conversationID, userID, phoneNumber, pointOfSaleID string) (*ConversationMemory, error) {
	unlock := s.locks.Lock(profileLockKey(userID))
	profile, err := s.profiles.GetOrCreateProfile(ctx, userID, phoneNumber, pointOfSaleID)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("loading profile %s: %w", userID, err)
	}
	if pointOfSaleID != "" && profile.Business.PointOfSaleID != pointOfSaleID {
		profile.Business.PointOfSaleID = pointOfSaleID
		if err := s.profiles.SaveProfile(ctx, profile); err != nil {
			slog.Warn("memory: updating point of sale", "error", err, "user_id", userID)
		}
	}
	unlock()

	summaries, err := s.profiles.ListSummaries(ctx, userID, MaxSummaries)
	if err != nil {
		slog.Warn("memory: loading previous summaries", "error", err, "user_id", userID)
		summaries = []ConversationSummary{}
	}

	mem := newConversationMemory(conversationID, profile, summaries, s.now())
	if err := s.conversations.Save(ctx, mem); err != nil {
		return nil, fmt.Errorf("saving conversation %s: %w", conversationID, err)
	}

	slog.Debug("memory: initialized conversation", "conversation_id", conversationID, "user_id", userID,
		"previous_summaries", len(summaries))
	return mem.clone(), nil
}

// Get returns a copy of the conversation's memory with its profile freshly loaded.
func (s *Service) Get(ctx context.Context, conversationID string) (*ConversationMemory, bool, error) {
	mem, err := s.load(ctx, conversationID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return mem, true, nil
}

// Update merges u into the conversation. Unknown ids are logged and ignored.
func (s *Service) Update(ctx context.Context, conversationID string, u Update) error {
	return s.mutate(ctx, conversationID, "update", func(mem *ConversationMemory) error {
		mem.apply(u)
		return nil
	})
}

// RecordTurn counts one processed turn and folds its latency into the
// running average.
func (s *Service) RecordTurn(ctx context.Context, conversationID string, elapsed time.Duration) error {
	return s.mutate(ctx, conversationID, "record turn", func(mem *ConversationMemory) error {
		mem.Metadata.TurnCount++
		ms := float64(elapsed.Microseconds()) / 1000
		mem.Metadata.AvgResponseTimeMs += (ms - mem.Metadata.AvgResponseTimeMs) / float64(mem.Metadata.TurnCount)
		return nil
	})
}

// LearnPreference stores key=value on the conversation and projects the
// keys the profile understands onto the shared UserProfile.
func (s *Service) LearnPreference(ctx context.Context, conversationID, key string, value any) error {
	return s.mutate(ctx, conversationID, "learn preference", func(mem *ConversationMemory) error {
		if mem.LongTerm.LearnedPreferences == nil {
			mem.LongTerm.LearnedPreferences = map[string]any{}
		}
		mem.LongTerm.LearnedPreferences[key] = value

		return s.updateProfile(ctx, mem, func(p *UserProfile) bool {
			return projectPreference(p, key, value)
		})
	})
}

func profileLockKey(userID string) string { return "profile:" + userID }

// updateProfile reloads the conversation's profile under the user's lock,
// applies fn and saves the result when fn reports a change. The memory ends
// up holding the latest profile either way.
func (s *Service) updateProfile(ctx context.Context, mem *ConversationMemory, fn func(*UserProfile) bool) error {
	cached := mem.LongTerm.UserProfile
	if cached == nil {
		return nil
	}

	unlock := s.locks.Lock(profileLockKey(cached.UserID))
	defer unlock()

	profile, err := s.profiles.GetProfile(ctx, cached.UserID)
	switch {
	case errors.Is(err, ErrNotFound):
		profile = cached
	case err != nil:
		return fmt.Errorf("loading profile %s: %w", cached.UserID, err)
	}

	if fn(profile) {
		if err := s.profiles.SaveProfile(ctx, profile); err != nil {
			return fmt.Errorf("saving profile %s: %w", profile.UserID, err)
		}
	}
	mem.LongTerm.UserProfile = profile
	return nil
}

// projectPreference applies a learned preference to the profile and reports
// whether the profile changed.
func projectPreference(p *UserProfile, key string, value any) bool {
	switch key {
	case PrefPreferredBrand:
		brand, ok := value.(string)
		if !ok || brand == "" {
			return false
		}
		before := len(p.Preferences.PreferredBrands)
		p.AddPreferredBrand(brand)
		return len(p.Preferences.PreferredBrands) != before
	case PrefVehicleInfo:
		switch v := value.(type) {
		case VehicleInfo:
			p.Preferences.VehicleInfo = &v
		case *VehicleInfo:
			if v == nil {
				return false
			}
			c := *v
			p.Preferences.VehicleInfo = &c
		default:
			return false
		}
		return true
	case PrefCommunicationStyle:
		var style CommunicationStyle
		switch v := value.(type) {
		case CommunicationStyle:
			style = v
		case string:
			style = CommunicationStyle(v)
		}
		if !style.Valid() {
			slog.Warn("memory: ignoring unknown communication style", "style", value)
			return false
		}
		p.Preferences.CommunicationStyle = style
		return true
	case PrefPriceRange:
		switch v := value.(type) {
		case PriceRange:
			p.Preferences.PriceRange = &v
		case *PriceRange:
			if v == nil {
				return false
			}
			c := *v
			p.Preferences.PriceRange = &c
		default:
			return false
		}
		return true
	}
	return false
}

// AnalyzeBehaviorPatterns recomputes the behavior tags for a conversation.
func (s *Service) AnalyzeBehaviorPatterns(ctx context.Context, conversationID string) ([]string, error) {
	mem, err := s.load(ctx, conversationID)
	if errors.Is(err, ErrNotFound) {
		slog.Warn("memory: analyze patterns on unknown conversation", "conversation_id", conversationID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return analyzePatterns(mem), nil
}

// BuildLLMContext flattens profile, behavior patterns and working memory
// into the shape the prompt assembler consumes.
func (s *Service) BuildLLMContext(ctx context.Context, conversationID string) (*LLMContext, error) {
	mem, err := s.load(ctx, conversationID)
	if errors.Is(err, ErrNotFound) {
		slog.Warn("memory: building context for unknown conversation", "conversation_id", conversationID)
		return &LLMContext{Entities: map[string]string{}, LearnedPreferences: map[string]any{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return buildLLMContext(mem, analyzePatterns(mem)), nil
}

// Snapshot returns the memory with its behavior patterns filled in.
func (s *Service) Snapshot(ctx context.Context, conversationID string) (*ConversationMemory, bool, error) {
	mem, ok, err := s.Get(ctx, conversationID)
	if err != nil || !ok {
		return nil, ok, err
	}
	mem.LongTerm.BehaviorPatterns = analyzePatterns(mem)
	return mem, true, nil
}

// Finalize writes an immutable summary of the conversation and folds it
// into the user's interaction history. The memory itself is kept; removing
// it is CleanupStale's job. A conversation is finalized at most once.
func (s *Service) Finalize(ctx context.Context, conversationID string, outcome Outcome) (*ConversationSummary, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("invalid outcome %q", outcome)
	}

	// Holding the conversation lock keeps CleanupStale from deleting the
	// memory between the load and the save below.
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	var summary *ConversationSummary
	err := s.mutate(ctx, conversationID, "finalize", func(mem *ConversationMemory) error {
		if mem.Metadata.FinalizedAt != nil {
			slog.Warn("memory: conversation already finalized", "conversation_id", conversationID)
			return nil
		}

		now := s.now()
		summary = summarize(mem, outcome)
		if err := s.profiles.SaveSummary(ctx, summary); err != nil {
			return fmt.Errorf("saving summary: %w", err)
		}

		err := s.updateProfile(ctx, mem, func(profile *UserProfile) bool {
			profile.Interactions.TotalMessages += mem.Metadata.TurnCount
			profile.Interactions.LastInteractionAt = now
			for _, t := range summary.MainTopics {
				if !slices.Contains(profile.Interactions.CommonTopics, t) {
					profile.Interactions.CommonTopics = append(profile.Interactions.CommonTopics, t)
				}
			}
			if n := len(profile.Interactions.CommonTopics); n > maxCommonTopics {
				profile.Interactions.CommonTopics = profile.Interactions.CommonTopics[n-maxCommonTopics:]
			}
			return true
		})
		if err != nil {
			return err
		}

		mem.Metadata.FinalizedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if summary != nil {
		slog.Info("memory: conversation finalized", "conversation_id", conversationID, "outcome", outcome,
			"messages", summary.MessageCount)
	}
	return summary, nil
}

func summarize(mem *ConversationMemory, outcome Outcome) *ConversationSummary {
	var topics []string
	add := func(t string) {
		if t != "" && !slices.Contains(topics, t) {
			topics = append(topics, t)
		}
	}
	for _, f := range mem.Working.ContextStack {
		add(f.Topic)
	}
	add(mem.ShortTerm.CurrentTopic)

	insights := analyzePatterns(mem)
	keys := make([]string, 0, len(mem.LongTerm.LearnedPreferences))
	for k := range mem.LongTerm.LearnedPreferences {
		keys = append(keys, "learned:"+k)
	}
	slices.Sort(keys)
	insights = append(insights, keys...)

	userID := ""
	if mem.LongTerm.UserProfile != nil {
		userID = mem.LongTerm.UserProfile.UserID
	}

	return &ConversationSummary{
		ConversationID: mem.ConversationID,
		UserID:         userID,
		StartedAt:      mem.Metadata.CreatedAt,
		DurationMs:     mem.Metadata.LastUpdatedAt.Sub(mem.Metadata.CreatedAt).Milliseconds(),
		MessageCount:   mem.Metadata.TurnCount,
		MainTopics:     nonNil(topics),
		Outcome:        outcome,
		KeyInsights:    nonNil(insights),
	}
}

// CleanupStale removes conversations not updated within maxAge and returns
// how many were removed. Conversations with a turn in flight are skipped;
// each candidate is re-checked under its lock before deletion.
func (s *Service) CleanupStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	ids, err := s.conversations.ListIdle(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing idle conversations: %w", err)
	}

	removed := 0
	for _, id := range ids {
		unlock, ok := s.locks.TryLock(id)
		if !ok {
			slog.Debug("memory: skipping in-flight conversation", "conversation_id", id)
			continue
		}

		mem, err := s.conversations.Get(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			// Expired underneath the index; drop the dangling entry.
			_ = s.conversations.Delete(ctx, id)
		case err != nil:
			slog.Warn("memory: loading conversation for cleanup", "error", err, "conversation_id", id)
		case !mem.Metadata.LastUpdatedAt.After(cutoff):
			if err := s.conversations.Delete(ctx, id); err != nil {
				slog.Warn("memory: deleting stale conversation", "error", err, "conversation_id", id)
			} else {
				removed++
			}
		}
		unlock()
	}

	if removed > 0 {
		slog.Info("memory: cleaned up stale conversations", "removed", removed, "max_age", maxAge)
	}
	return removed, nil
}

func (s *Service) load(ctx context.Context, conversationID string) (*ConversationMemory, error) {
	mem, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}

	if mem.LongTerm.UserProfile != nil {
		profile, err := s.profiles.GetProfile(ctx, mem.LongTerm.UserProfile.UserID)
		switch {
		case err == nil:
			mem.LongTerm.UserProfile = profile
		case !errors.Is(err, ErrNotFound):
			slog.Warn("memory: refreshing profile, using stored copy", "error", err,
				"user_id", mem.LongTerm.UserProfile.UserID)
		}
	}
	return mem, nil
}

// mutate loads, applies fn, stamps LastUpdatedAt and saves. Unknown ids are
// a logged no-op.
func (s *Service) mutate(ctx context.Context, conversationID, op string, fn func(*ConversationMemory) error) error {
	mem, err := s.load(ctx, conversationID)
	if errors.Is(err, ErrNotFound) {
		slog.Warn("memory: "+op+" on unknown conversation", "conversation_id", conversationID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := fn(mem); err != nil {
		return err
	}

	now := s.now()
	if now.Before(mem.Metadata.CreatedAt) {
		now = mem.Metadata.CreatedAt
	}
	mem.Metadata.LastUpdatedAt = now
	if err := s.conversations.Save(ctx, mem); err != nil {
		return fmt.Errorf("saving conversation %s: %w", conversationID, err)
	}
	return nil
}
