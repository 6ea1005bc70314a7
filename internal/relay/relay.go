// Package relay feeds WhatsApp messages arriving on NATS through the session
// service and publishes the replies back for delivery.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/refaxbot/refaxbot/internal/metrics"
	inats "github.com/refaxbot/refaxbot/internal/nats"
	"github.com/refaxbot/refaxbot/internal/orchestrator"
	"github.com/refaxbot/refaxbot/internal/session"
)

const consumerName = "relay"

// MessageProcessor runs a turn for a conversation.
type MessageProcessor interface {
	ProcessMessageDetailed(ctx context.Context, conversationID, text string, mc session.MessageContext) (*orchestrator.Result, error)
}

// OutboundPublisher delivers replies to the gateway.
type OutboundPublisher interface {
	PublishOutboundMessage(ctx context.Context, msg inats.OutboundMessage) error
}

// ack tells the fetch loop how to settle a message.
type ack int

const (
	ackDone ack = iota
	ackRetry
	ackDrop
)

// Relay consumes inbound messages and publishes replies.
type Relay struct {
	sessions    MessageProcessor
	publisher   OutboundPublisher
	consumerMgr *inats.ConsumerManager
}

// New creates a new Relay.
func New(sessions MessageProcessor, publisher OutboundPublisher, consumerMgr *inats.ConsumerManager) *Relay {
	return &Relay{
		sessions:    sessions,
		publisher:   publisher,
		consumerMgr: consumerMgr,
	}
}

// Start blocks consuming inbound messages until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	consumer, err := r.consumerMgr.EnsureConsumer(ctx, inats.StreamMessages, consumerName, inats.SubjectInboundMessage)
	if err != nil {
		return err
	}

	slog.Info("relay started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("fetching inbound messages", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			switch r.handle(ctx, msg.Data()) {
			case ackRetry:
				_ = msg.Nak()
			case ackDrop:
				_ = msg.Term()
			default:
				_ = msg.Ack()
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *Relay) handle(ctx context.Context, data []byte) ack {
	var inbound inats.InboundMessage
	if err := json.Unmarshal(data, &inbound); err != nil {
		slog.Error("unmarshaling inbound message", "error", err)
		metrics.RelayMessagesTotal.WithLabelValues("invalid").Inc()
		return ackDrop
	}

	// WhatsApp threads are keyed by the customer's number when the gateway
	// does not assign its own ids.
	conversationID := inbound.ConversationID
	if conversationID == "" {
		conversationID = inbound.PhoneNumber
	}
	userID := inbound.UserID
	if userID == "" {
		userID = inbound.PhoneNumber
	}
	if conversationID == "" || inbound.Body == "" {
		slog.Warn("relay: dropping message without conversation or body", "id", inbound.ID)
		metrics.RelayMessagesTotal.WithLabelValues("invalid").Inc()
		return ackDrop
	}

	slog.Debug("relay processing message", "id", inbound.ID, "conversation_id", conversationID)

	res, err := r.sessions.ProcessMessageDetailed(ctx, conversationID, inbound.Body, session.MessageContext{
		UserID:        userID,
		PhoneNumber:   inbound.PhoneNumber,
		PointOfSaleID: inbound.PointOfSaleID,
		Metadata:      inbound.Metadata,
	})
	if err != nil {
		slog.Error("relay: processing message", "error", err, "conversation_id", conversationID)
		if res == nil {
			metrics.RelayMessagesTotal.WithLabelValues("failed").Inc()
			return ackRetry
		}
	}

	outbound := inats.OutboundMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		PhoneNumber:    inbound.PhoneNumber,
		Body:           res.ResponseText,
		Suggestions:    res.Suggestions,
		InReplyTo:      inbound.ID,
	}
	if err := r.publisher.PublishOutboundMessage(ctx, outbound); err != nil {
		// The turn already ran; redelivery would repeat it.
		slog.Error("publishing outbound message", "error", err, "conversation_id", conversationID)
		metrics.RelayMessagesTotal.WithLabelValues("failed").Inc()
		return ackDone
	}

	metrics.RelayMessagesTotal.WithLabelValues("processed").Inc()
	return ackDone
}
