// Package audit persists the per-turn events published by the engine so
// operators can review how each conversation was handled.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/refaxbot/refaxbot/internal/nats"
)

const consumerName = "audit-persister"

// Inserter stores turn logs.
type Inserter interface {
	Insert(ctx context.Context, log *TurnLog) error
}

// Consumer listens on the turn event NATS subject and persists entries to the database.
type Consumer struct {
	repo        Inserter
	consumerMgr *inats.ConsumerManager
}

// NewConsumer creates a new turn event Consumer.
func NewConsumer(repo Inserter, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, consumerName, inats.SubjectTurnEvent)
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			if c.handleEvent(ctx, msg.Data()) {
				_ = msg.Ack()
			} else {
				_ = msg.Nak()
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// handleEvent reports whether the event was persisted.
func (c *Consumer) handleEvent(ctx context.Context, data []byte) bool {
	var event inats.TurnEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Error("audit consumer: unmarshaling event", "error", err)
		return false
	}

	log := toTurnLog(event)
	if err := c.repo.Insert(ctx, log); err != nil {
		slog.Error("audit consumer: persisting turn log", "error", err, "conversation_id", event.ConversationID)
		return false
	}

	slog.Debug("audit consumer: persisted turn",
		"conversation_id", event.ConversationID,
		"intent", event.Intent,
		"success", event.Success,
	)
	return true
}

func toTurnLog(event inats.TurnEvent) *TurnLog {
	functions := event.Functions
	if functions == nil {
		functions = []string{}
	}
	return &TurnLog{
		ConversationID: event.ConversationID,
		UserID:         event.UserID,
		Intent:         event.Intent,
		Confidence:     event.Confidence,
		Functions:      functions,
		Success:        event.Success,
		ProcessingMs:   event.ProcessingMs,
		OccurredAt:     event.Timestamp,
	}
}
