// Package twiliowhatsapp wraps the Twilio API for the WhatsApp channel of tutorbot.
//
// It sends outbound messages, validates inbound webhook signatures and decodes
// inbound form posts into inbound events.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/stephenadei/tutorbot/internal/models"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ConversationPrefix namespaces Twilio conversation ids.
const ConversationPrefix = "twilio:"

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

// Sender sends a WhatsApp text through Twilio. Implemented by Client and MockClient.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token, also used to validate webhooks.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sender, in "whatsapp:+31..." format.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST API for WhatsApp.
type Client struct {
	client    *twilio.RestClient
	fromWhats string
}

// NewClient creates a client. Missing options fall back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}
	if !strings.HasPrefix(cfg.FromWhats, "whatsapp:") {
		cfg.FromWhats = "whatsapp:" + cfg.FromWhats
	}

	rest := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)
	return &Client{client: rest, fromWhats: cfg.FromWhats}, nil
}

// SendMessage sends a WhatsApp message. to is an E.164 number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + to)
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	if _, err := c.client.Api.CreateMessage(params); err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("Twilio message sent", "to", to)
	return nil
}

// Validator checks X-Twilio-Signature on inbound webhooks.
type Validator struct {
	v client.RequestValidator
}

// NewValidator creates a validator for the given auth token.
func NewValidator(authToken string) *Validator {
	return &Validator{v: client.NewRequestValidator(authToken)}
}

// Validate checks signature for a form post to publicURL.
func (v *Validator) Validate(publicURL string, form url.Values, signature string) bool {
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	return v.v.Validate(publicURL, params, signature)
}

// ConversationID maps a phone number to its conversation id.
func ConversationID(phone string) string {
	return ConversationPrefix + phone
}

// PhoneFromConversation reverses ConversationID.
func PhoneFromConversation(conversationID string) (string, error) {
	if !strings.HasPrefix(conversationID, ConversationPrefix) {
		return "", fmt.Errorf("not a twilio conversation id: %q", conversationID)
	}
	return strings.TrimPrefix(conversationID, ConversationPrefix), nil
}

// ParseInbound decodes a Twilio WhatsApp webhook form.
func ParseInbound(form url.Values) (models.InboundEvent, error) {
	phone := strings.TrimPrefix(strings.TrimSpace(form.Get("From")), "whatsapp:")
	ev := models.InboundEvent{
		MessageID:   form.Get("MessageSid"),
		ContactID:   phone,
		Text:        strings.TrimSpace(form.Get("Body")),
		Payload:     strings.TrimSpace(form.Get("ButtonPayload")),
		ContactName: form.Get("ProfileName"),
		Timestamp:   time.Now().UTC(),
	}
	if phone != "" {
		ev.ConversationID = ConversationID(phone)
	}
	if err := ev.Validate(); err != nil {
		return ev, fmt.Errorf("%w: %v", models.ErrInvalidEvent, err)
	}
	return ev, nil
}

// MockClient records sent messages.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

// SentMessage is one message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
