// Package messaging delivers dialogue replies to users and routes handoff
// signals to the humans behind the channel.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stephenadei/tutorbot/internal/models"
	"github.com/stephenadei/tutorbot/internal/twiliowhatsapp"
)

// ErrNoRecipient is returned when a conversation id cannot be mapped to a channel recipient.
var ErrNoRecipient = errors.New("conversation has no channel recipient")

// Gateway sends text and multi-choice prompts to a conversation. Delivery is
// fire-and-forget from the dialogue engine's point of view.
type Gateway interface {
	SendText(ctx context.Context, conversationID, text string) error
	SendChoice(ctx context.Context, conversationID, text string, options []models.Option) error
}

type dedupeKeyCtx struct{}

// WithDedupeKey attaches the idempotency key of the reply being sent.
func WithDedupeKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, dedupeKeyCtx{}, key)
}

// DedupeKey returns the idempotency key attached by WithDedupeKey, if any.
func DedupeKey(ctx context.Context) string {
	key, _ := ctx.Value(dedupeKeyCtx{}).(string)
	return key
}

// Send dispatches a reply to the matching Gateway method.
func Send(ctx context.Context, gw Gateway, conversationID string, reply models.Reply) error {
	if err := reply.Validate(); err != nil {
		return err
	}
	if reply.IsChoice() {
		return gw.SendChoice(ctx, conversationID, reply.Text, reply.Options)
	}
	return gw.SendText(ctx, conversationID, reply.Text)
}

// chatwootSender is the subset of the Chatwoot client used for delivery.
type chatwootSender interface {
	SendText(ctx context.Context, conversationID, text string) error
	SendChoice(ctx context.Context, conversationID, text string, options []models.Option) error
}

// ChatwootGateway delivers replies as Chatwoot outgoing messages; menus become input_select lists.
type ChatwootGateway struct {
	client chatwootSender
}

// NewChatwootGateway creates a gateway backed by a Chatwoot client.
func NewChatwootGateway(client chatwootSender) *ChatwootGateway {
	return &ChatwootGateway{client: client}
}

func (g *ChatwootGateway) SendText(ctx context.Context, conversationID, text string) error {
	return g.client.SendText(ctx, conversationID, text)
}

func (g *ChatwootGateway) SendChoice(ctx context.Context, conversationID, text string, options []models.Option) error {
	return g.client.SendChoice(ctx, conversationID, text, options)
}

// TwilioGateway delivers replies over Twilio WhatsApp. Menus are rendered as
// numbered text; the dialogue engine accepts the number as an answer.
type TwilioGateway struct {
	sender twiliowhatsapp.Sender
}

// NewTwilioGateway creates a gateway backed by a Twilio sender.
func NewTwilioGateway(sender twiliowhatsapp.Sender) *TwilioGateway {
	return &TwilioGateway{sender: sender}
}

func (g *TwilioGateway) SendText(ctx context.Context, conversationID, text string) error {
	to, err := twiliowhatsapp.PhoneFromConversation(conversationID)
	if err != nil {
		slog.Error("TwilioGateway.SendText: bad conversation id", "conversationID", conversationID, "error", err)
		return fmt.Errorf("%w: %v", ErrNoRecipient, err)
	}
	return g.sender.SendMessage(ctx, to, text)
}

func (g *TwilioGateway) SendChoice(ctx context.Context, conversationID, text string, options []models.Option) error {
	return g.SendText(ctx, conversationID, NumberedMenu(text, options))
}

// NumberedMenu renders a prompt followed by a 1-based option list.
func NumberedMenu(text string, options []models.Option) string {
	var b strings.Builder
	b.WriteString(text)
	if len(options) > 0 {
		b.WriteString("\n")
	}
	for i, o := range options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, o.Label)
	}
	return b.String()
}
