package chatwoot

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stephenadei/tutorbot/internal/models"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Chatwoot-Signature"

// VerifySignature checks signature against HMAC-SHA256(secret, body).
func VerifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(signature))), []byte(expected))
}

// Sign returns the signature VerifySignature accepts. Used by tests and tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// flexID accepts ids encoded either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(b), err)
	}
	*f = flexID(n.String())
	return nil
}

type submittedValue struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type contentAttributes struct {
	Payload         string           `json:"payload"`
	SubmittedValues []submittedValue `json:"submitted_values"`
}

type party struct {
	ID   flexID `json:"id"`
	Name string `json:"name"`
}

// WebhookPayload is the subset of a Chatwoot webhook delivery tutorbot reads.
type WebhookPayload struct {
	Event             string             `json:"event"`
	ID                flexID             `json:"id"`
	MessageType       string             `json:"message_type"`
	Content           string             `json:"content"`
	CreatedAt         json.RawMessage    `json:"created_at"`
	ContentAttributes *contentAttributes `json:"content_attributes"`
	Message           *struct {
		ContentAttributes *contentAttributes `json:"content_attributes"`
	} `json:"message"`
	Conversation party `json:"conversation"`
	Sender       party `json:"sender"`
	Contact      party `json:"contact"`
}

// ParseWebhook decodes a raw webhook body.
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidEvent, err)
	}
	return &p, nil
}

// IsIncomingMessage reports whether the delivery is a user message the bot must handle.
func (p *WebhookPayload) IsIncomingMessage() bool {
	return p.Event == "message_created" && p.MessageType == "incoming"
}

// InboundEvent converts the payload into an inbound event and validates it.
// Button payloads take precedence over the message text.
func (p *WebhookPayload) InboundEvent() (models.InboundEvent, error) {
	contactID := string(p.Sender.ID)
	name := p.Sender.Name
	if contactID == "" {
		contactID = string(p.Contact.ID)
		name = p.Contact.Name
	}
	ev := models.InboundEvent{
		MessageID:      string(p.ID),
		ConversationID: string(p.Conversation.ID),
		ContactID:      contactID,
		Text:           strings.TrimSpace(p.Content),
		Payload:        p.payload(),
		ContactName:    name,
		Timestamp:      p.timestamp(),
	}
	if err := ev.Validate(); err != nil {
		return ev, fmt.Errorf("%w: %v", models.ErrInvalidEvent, err)
	}
	return ev, nil
}

func (p *WebhookPayload) payload() string {
	attrs := p.ContentAttributes
	if attrs == nil && p.Message != nil {
		attrs = p.Message.ContentAttributes
	}
	if attrs == nil {
		return ""
	}
	if attrs.Payload != "" {
		return strings.TrimSpace(attrs.Payload)
	}
	if len(attrs.SubmittedValues) > 0 {
		sv := attrs.SubmittedValues[0]
		if sv.Value != "" {
			return strings.TrimSpace(sv.Value)
		}
		return strings.TrimSpace(sv.Title)
	}
	return ""
}

// created_at is a unix timestamp on message events and an RFC3339 string on others.
func (p *WebhookPayload) timestamp() time.Time {
	if len(p.CreatedAt) == 0 {
		return time.Now().UTC()
	}
	var unix int64
	if err := json.Unmarshal(p.CreatedAt, &unix); err == nil && unix > 0 {
		return time.Unix(unix, 0).UTC()
	}
	var s string
	if err := json.Unmarshal(p.CreatedAt, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
