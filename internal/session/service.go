package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/refaxbot/refaxbot/internal/keylock"
	"github.com/refaxbot/refaxbot/internal/memory"
	"github.com/refaxbot/refaxbot/internal/metrics"
	"github.com/refaxbot/refaxbot/internal/orchestrator"
)

// DefaultMaxIdle is how long a session may go without messages before the
// sweep abandons it.
const DefaultMaxIdle = 60 * time.Minute

// Processor runs one orchestration turn.
type Processor interface {
	Process(ctx context.Context, req orchestrator.Request) *orchestrator.Result
}

// Finalizer closes the memory of a conversation.
type Finalizer interface {
	Finalize(ctx context.Context, conversationID string, outcome memory.Outcome) (*memory.ConversationSummary, error)
}

// Service owns session history and phase. Operations on one session are
// serialized by its own lock map, taken before the engine's.
type Service struct {
	store     Store
	engine    Processor
	finalizer Finalizer
	locks     *keylock.Map
	now       func() time.Time
}

// NewService creates a new Service.
func NewService(store Store, engine Processor, finalizer Finalizer) *Service {
	return &Service{
		store:     store,
		engine:    engine,
		finalizer: finalizer,
		locks:     keylock.New(),
		now:       time.Now,
	}
}

// CreateSession returns the session for conversationID, creating it if
// needed. An existing session is returned unchanged.
func (s *Service) CreateSession(ctx context.Context, conversationID string, mc MessageContext) (*Session, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()
	return s.getOrCreate(ctx, conversationID, mc)
}

func (s *Service) getOrCreate(ctx context.Context, conversationID string, mc MessageContext) (*Session, error) {
	sess, err := s.store.Get(ctx, conversationID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("loading session %s: %w", conversationID, err)
	}

	sess = newSession(conversationID, mc, s.now())
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("saving session %s: %w", conversationID, err)
	}
	metrics.ActiveSessions.Inc()
	slog.Info("session: created", "conversation_id", conversationID, "user_id", mc.UserID)
	return sess, nil
}

// Get returns the session or ErrNotFound.
func (s *Service) Get(ctx context.Context, conversationID string) (*Session, error) {
	sess, err := s.store.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading session %s: %w", conversationID, err)
	}
	return sess, nil
}

// AppendMessage adds m to the history. Unknown ids are a logged no-op.
func (s *Service) AppendMessage(ctx context.Context, conversationID string, m Message) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	return s.mutate(ctx, conversationID, "append message", func(sess *Session) {
		sess.append(m)
	})
}

// UpdateState moves the session to the phase implied by an engine result.
func (s *Service) UpdateState(ctx context.Context, conversationID string, res *orchestrator.Result) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	return s.mutate(ctx, conversationID, "update state", func(sess *Session) {
		sess.applyResult(res)
	})
}

func (s *Service) mutate(ctx context.Context, conversationID, op string, fn func(*Session)) error {
	sess, err := s.store.Get(ctx, conversationID)
	if errors.Is(err, ErrNotFound) {
		slog.Warn("session: "+op+" on unknown session", "conversation_id", conversationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading session %s: %w", conversationID, err)
	}
	fn(sess)
	if err := s.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("saving session %s: %w", conversationID, err)
	}
	return nil
}

// ProcessMessage runs a turn and returns only the reply text.
func (s *Service) ProcessMessage(ctx context.Context, conversationID, text string, mc MessageContext) (string, error) {
	res, err := s.ProcessMessageDetailed(ctx, conversationID, text, mc)
	if err != nil {
		return "", err
	}
	return res.ResponseText, nil
}

// ProcessMessageDetailed records the customer message, runs a turn, records
// the reply and advances the phase. Engine failures are already folded into
// the result; the error covers session storage only.
func (s *Service) ProcessMessageDetailed(ctx context.Context, conversationID, text string, mc MessageContext) (*orchestrator.Result, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	sess, err := s.getOrCreate(ctx, conversationID, mc)
	if err != nil {
		return nil, err
	}
	sess.append(Message{Role: RoleUser, Content: text, Timestamp: s.now(), Metadata: mc.Metadata})

	userID := mc.UserID
	if userID == "" {
		userID = sess.UserID
	}
	phone := mc.PhoneNumber
	if phone == "" {
		phone = sess.PhoneNumber
	}
	pos := mc.PointOfSaleID
	if pos == "" {
		pos = sess.PointOfSaleID
	}

	res := s.engine.Process(ctx, orchestrator.Request{
		ConversationID: conversationID,
		UserID:         userID,
		PhoneNumber:    phone,
		Message:        text,
		PointOfSaleID:  pos,
		Metadata:       mc.Metadata,
	})

	sess.append(Message{
		Role:      RoleAssistant,
		Content:   res.ResponseText,
		Timestamp: s.now(),
		Metadata: map[string]string{
			"intent":     string(res.Intent),
			"confidence": strconv.FormatFloat(res.Metadata.ConfidenceScore, 'f', 2, 64),
			"functions":  strings.Join(res.Metadata.FunctionsCalled, ","),
		},
	})
	sess.applyResult(res)

	if err := s.store.Save(ctx, sess); err != nil {
		return res, fmt.Errorf("saving session %s: %w", conversationID, err)
	}
	return res, nil
}

// EndSession finalizes the conversation memory with outcome and removes the
// session.
func (s *Service) EndSession(ctx context.Context, conversationID string, outcome memory.Outcome) (*memory.ConversationSummary, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("invalid outcome %q", outcome)
	}
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	summary, err := s.finalizer.Finalize(ctx, conversationID, outcome)
	if err != nil {
		return nil, fmt.Errorf("finalizing memory: %w", err)
	}
	if err := s.store.Delete(ctx, conversationID); err != nil {
		return summary, fmt.Errorf("deleting session %s: %w", conversationID, err)
	}
	metrics.ActiveSessions.Dec()
	slog.Info("session: ended", "conversation_id", conversationID, "outcome", outcome)
	return summary, nil
}

// CleanupInactive abandons sessions idle for longer than maxIdle and returns
// how many were removed. Sessions with a turn in flight are skipped.
func (s *Service) CleanupInactive(ctx context.Context, maxIdle time.Duration) (int, error) {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	cutoff := s.now().Add(-maxIdle)
	ids, err := s.store.ListIdle(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing idle sessions: %w", err)
	}

	removed := 0
	for _, id := range ids {
		unlock, ok := s.locks.TryLock(id)
		if !ok {
			slog.Debug("session: skipping in-flight session", "conversation_id", id)
			continue
		}
		if s.abandon(ctx, id, cutoff) {
			removed++
		}
		unlock()
	}

	if removed > 0 {
		slog.Info("session: cleaned up inactive sessions", "removed", removed, "max_idle", maxIdle)
	}
	return removed, nil
}

// abandon re-checks a candidate under its lock, finalizes its memory and
// deletes it. The caller holds the session lock.
func (s *Service) abandon(ctx context.Context, id string, cutoff time.Time) bool {
	sess, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		_ = s.store.Delete(ctx, id)
		return false
	case err != nil:
		slog.Warn("session: loading session for cleanup", "error", err, "conversation_id", id)
		return false
	case sess.LastActivityAt.After(cutoff):
		return false
	}

	if _, err := s.finalizer.Finalize(ctx, id, memory.OutcomeAbandoned); err != nil {
		slog.Warn("session: finalizing abandoned conversation", "error", err, "conversation_id", id)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		slog.Warn("session: deleting inactive session", "error", err, "conversation_id", id)
		return false
	}
	metrics.ActiveSessions.Dec()
	return true
}
