package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/stephenadei/tutorbot/internal/models"
	"github.com/stephenadei/tutorbot/internal/store"
)

// Outbox message kinds.
const (
	OutboxKindText   = "text"
	OutboxKindChoice = "choice"
)

// OutboxGateway persists replies in the durable outbox instead of sending them
// directly. The dedupe key from the context guarantees that a redelivered
// inbound event never produces a second send.
type OutboxGateway struct {
	repo store.OutboxRepo
}

// NewOutboxGateway creates an outbox-backed gateway.
func NewOutboxGateway(repo store.OutboxRepo) *OutboxGateway {
	return &OutboxGateway{repo: repo}
}

func (g *OutboxGateway) SendText(ctx context.Context, conversationID, text string) error {
	return g.enqueue(ctx, conversationID, OutboxKindText, models.Reply{Text: text})
}

func (g *OutboxGateway) SendChoice(ctx context.Context, conversationID, text string, options []models.Option) error {
	return g.enqueue(ctx, conversationID, OutboxKindChoice, models.Reply{Text: text, Options: options})
}

func (g *OutboxGateway) enqueue(ctx context.Context, conversationID, kind string, reply models.Reply) error {
	payload, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}
	key := DedupeKey(ctx)
	id, err := g.repo.EnqueueOutboxMessage(ctx, conversationID, kind, string(payload), key)
	if err != nil {
		slog.Error("OutboxGateway.enqueue failed", "conversationID", conversationID, "dedupeKey", key, "error", err)
		return err
	}
	slog.Debug("OutboxGateway.enqueue: reply queued", "conversationID", conversationID, "id", id, "dedupeKey", key)
	return nil
}

// DeliverFunc returns the OutboxSender callback that hands queued replies to gw.
// Undecodable payloads are permanent failures.
func DeliverFunc(gw Gateway) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		var reply models.Reply
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &reply); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode outbox payload %s: %w", msg.ID, err))
		}
		if err := reply.Validate(); err != nil {
			return backoff.Permanent(err)
		}
		if msg.Kind == OutboxKindChoice {
			return gw.SendChoice(ctx, msg.ConversationID, reply.Text, reply.Options)
		}
		return gw.SendText(ctx, msg.ConversationID, reply.Text)
	}
}
