package twiliowhatsapp

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stephenadei/tutorbot/internal/models"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	if err := mock.SendMessage(ctx, "+31612345678", "Hello Test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", sent[0].Body)
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Fatal("expected error without sender number")
	}
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("+3120000000"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.fromWhats != "whatsapp:+3120000000" {
		t.Errorf("expected whatsapp prefix, got %q", c.fromWhats)
	}
}

func TestParseInbound(t *testing.T) {
	form := url.Values{
		"MessageSid":    {"SM123"},
		"From":          {"whatsapp:+31612345678"},
		"Body":          {" 2 "},
		"ButtonPayload": {""},
		"ProfileName":   {"Anna"},
	}
	ev, err := ParseInbound(form)
	if err != nil {
		t.Fatalf("ParseInbound failed: %v", err)
	}
	if ev.ConversationID != "twilio:+31612345678" || ev.ContactID != "+31612345678" {
		t.Errorf("unexpected ids: %+v", ev)
	}
	if ev.Input() != "2" {
		t.Errorf("expected trimmed body, got %q", ev.Input())
	}

	phone, err := PhoneFromConversation(ev.ConversationID)
	if err != nil || phone != "+31612345678" {
		t.Errorf("PhoneFromConversation = %q, %v", phone, err)
	}
	if _, err := PhoneFromConversation("42"); err == nil {
		t.Error("expected error for a non-twilio conversation id")
	}

	delete(form, "MessageSid")
	if _, err := ParseInbound(form); !errors.Is(err, models.ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestValidator_RejectsBadSignature(t *testing.T) {
	v := NewValidator("token")
	form := url.Values{"Body": {"hi"}}
	if v.Validate("https://bot.example.com/webhooks/twilio", form, "bogus") {
		t.Error("bogus signature accepted")
	}
}
