// Package session tracks the message history and coarse phase of each
// WhatsApp conversation across orchestration turns.
package session

import (
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/refaxbot/refaxbot/internal/orchestrator"
)

// MaxMessages bounds the history kept per session; older messages are dropped.
const MaxMessages = 200

var ErrNotFound = errors.New("session not found")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Phase is the coarse state machine position of a conversation.
type Phase string

const (
	PhaseInitial          Phase = "initial"
	PhaseSearching        Phase = "searching"
	PhaseProcessing       Phase = "processing"
	PhaseAwaitingDecision Phase = "awaiting_decision"
)

// PhaseFor maps the phase reported by the engine onto the session phase.
func PhaseFor(enginePhase string) Phase {
	switch enginePhase {
	case orchestrator.PhaseSearchProduct, orchestrator.PhaseInventoryCheck:
		return PhaseSearching
	case orchestrator.PhasePurchaseIntent:
		return PhaseProcessing
	case orchestrator.PhaseSupportRequest:
		return PhaseAwaitingDecision
	}
	return PhaseInitial
}

type Message struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type State struct {
	Phase         Phase  `json:"phase"`
	AwaitingInput bool   `json:"awaiting_input"`
	LastIntent    string `json:"last_intent,omitempty"`
}

type Session struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	PhoneNumber    string    `json:"phone_number"`
	PointOfSaleID  string    `json:"point_of_sale_id"`
	Messages       []Message `json:"messages"`
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// MessageContext identifies the sender of a message.
type MessageContext struct {
	UserID        string
	PhoneNumber   string
	PointOfSaleID string
	Metadata      map[string]string
}

func newSession(conversationID string, mc MessageContext, now time.Time) *Session {
	return &Session{
		ConversationID: conversationID,
		UserID:         mc.UserID,
		PhoneNumber:    mc.PhoneNumber,
		PointOfSaleID:  mc.PointOfSaleID,
		Messages:       []Message{},
		State:          State{Phase: PhaseInitial},
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func (s *Session) append(m Message) {
	s.Messages = append(s.Messages, m)
	if n := len(s.Messages); n > MaxMessages {
		s.Messages = slices.Clone(s.Messages[n-MaxMessages:])
	}
	if m.Timestamp.After(s.LastActivityAt) {
		s.LastActivityAt = m.Timestamp
	}
}

func (s *Session) applyResult(res *orchestrator.Result) {
	s.State = State{
		Phase:         PhaseFor(res.ConversationState.Phase),
		AwaitingInput: !res.ConversationState.CanProgress,
		LastIntent:    string(res.Intent),
	}
}

func (s *Session) clone() *Session {
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		m.Metadata = maps.Clone(m.Metadata)
		c.Messages[i] = m
	}
	return &c
}
