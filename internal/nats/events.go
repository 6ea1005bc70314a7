package nats

import (
	"time"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamMessages = "REFAX_MESSAGES"
	StreamEvents   = "REFAX_EVENTS"
)

// Subject constants.
const (
	SubjectInboundMessage  = "refax.messages.inbound"
	SubjectOutboundMessage = "refax.messages.outbound"
	SubjectTurnEvent       = "refax.events.turn"
)

// InboundMessage is published by the WhatsApp gateway for every customer message.
type InboundMessage struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	UserID         string            `json:"user_id"`
	PhoneNumber    string            `json:"phone_number"`
	PointOfSaleID  string            `json:"point_of_sale_id"`
	Body           string            `json:"body"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ReceivedAt     time.Time         `json:"received_at"`
}

// OutboundMessage is published for the gateway to deliver back over WhatsApp.
type OutboundMessage struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	PhoneNumber    string   `json:"phone_number"`
	Body           string   `json:"body"`
	Suggestions    []string `json:"suggestions,omitempty"`
	InReplyTo      string   `json:"in_reply_to,omitempty"`
}

// TurnEvent is published once per processed turn for auditing.
type TurnEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Intent         string    `json:"intent"`
	Confidence     float64   `json:"confidence"`
	Functions      []string  `json:"functions"`
	Success        bool      `json:"success"`
	ProcessingMs   int64     `json:"processing_ms"`
	Timestamp      time.Time `json:"timestamp"`
}
