package chatwoot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stephenadei/tutorbot/internal/models"
)

// fakeChatwoot is a minimal in-memory Chatwoot account.
type fakeChatwoot struct {
	mu       sync.Mutex
	contact  map[string]any
	conv     map[string]any
	labels   []string
	messages []map[string]any
	assigned int
	failWith int
}

func (f *fakeChatwoot) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Header.Get("api_access_token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.failWith != 0 {
			w.WriteHeader(f.failWith)
			return
		}
		var body map[string]any
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			if len(data) > 0 {
				if err := json.Unmarshal(data, &body); err != nil {
					t.Errorf("invalid request body: %v", err)
				}
			}
		}
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/accounts/3")
		switch {
		case r.Method == http.MethodGet && path == "/contacts/7":
			json.NewEncoder(w).Encode(map[string]any{"payload": map[string]any{"custom_attributes": f.contact}})
		case r.Method == http.MethodPut && path == "/contacts/7":
			f.contact = body["custom_attributes"].(map[string]any)
			w.Write([]byte(`{}`))
		case r.Method == http.MethodGet && path == "/conversations/42":
			json.NewEncoder(w).Encode(map[string]any{"custom_attributes": f.conv})
		case r.Method == http.MethodPost && path == "/conversations/42/custom_attributes":
			f.conv = body["custom_attributes"].(map[string]any)
			w.Write([]byte(`{}`))
		case r.Method == http.MethodGet && path == "/conversations/42/labels":
			json.NewEncoder(w).Encode(map[string]any{"payload": f.labels})
		case r.Method == http.MethodPost && path == "/conversations/42/labels":
			f.labels = nil
			for _, l := range body["labels"].([]any) {
				f.labels = append(f.labels, l.(string))
			}
			w.Write([]byte(`{}`))
		case r.Method == http.MethodPost && path == "/conversations/42/messages":
			f.messages = append(f.messages, body)
			w.Write([]byte(`{}`))
		case r.Method == http.MethodPost && path == "/conversations/42/assignments":
			f.assigned = int(body["assignee_id"].(float64))
			w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestClient(t *testing.T, f *fakeChatwoot) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c, err := NewClient(WithBaseURL(srv.URL+"/"), WithAccountID("3"), WithToken("tok"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClient_RequiresConfig(t *testing.T) {
	t.Setenv("CW_URL", "")
	t.Setenv("CW_ACC_ID", "")
	t.Setenv("CW_TOKEN", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without configuration")
	}
}

func TestContactAttrs_MergeAndFilter(t *testing.T) {
	f := &fakeChatwoot{contact: map[string]any{"language": "nl", "crm_owner": "sales", "is_adult": true, "name": "Old"}}
	c := newTestClient(t, f)
	ctx := context.Background()

	attrs, err := c.GetContactAttrs(ctx, "7")
	if err != nil {
		t.Fatalf("GetContactAttrs failed: %v", err)
	}
	if _, ok := attrs["crm_owner"]; ok {
		t.Error("foreign attribute must be filtered on read")
	}
	if attrs[models.KeyIsAdult] != "true" {
		t.Errorf("expected boolean to be stringified, got %q", attrs[models.KeyIsAdult])
	}

	err = c.SetContactAttrs(ctx, "7", models.Attrs{models.KeySchoolLevel: "vwo", models.KeyName: ""})
	if err != nil {
		t.Fatalf("SetContactAttrs failed: %v", err)
	}
	if f.contact["crm_owner"] != "sales" {
		t.Error("foreign attribute must survive a write")
	}
	if f.contact["school_level"] != "vwo" {
		t.Errorf("expected school_level vwo, got %v", f.contact["school_level"])
	}
	if _, ok := f.contact["name"]; ok {
		t.Error("empty value must clear the attribute")
	}

	if err := c.SetContactAttrs(ctx, "7", models.Attrs{"crm_owner": "x"}); !errors.Is(err, models.ErrUnknownAttribute) {
		t.Errorf("expected ErrUnknownAttribute, got %v", err)
	}
}

func TestConvAttrsAndLabels(t *testing.T) {
	f := &fakeChatwoot{conv: map[string]any{}, labels: []string{"vip"}}
	c := newTestClient(t, f)
	ctx := context.Background()

	if err := c.SetConvAttrs(ctx, "42", models.Attrs{models.KeyPendingIntent: "subject"}); err != nil {
		t.Fatalf("SetConvAttrs failed: %v", err)
	}
	attrs, _ := c.GetConvAttrs(ctx, "42")
	if attrs[models.KeyPendingIntent] != "subject" {
		t.Errorf("expected pending intent subject, got %v", attrs)
	}

	if err := c.AddConvLabels(ctx, "42", []string{"subject:math", "vip"}); err != nil {
		t.Fatalf("AddConvLabels failed: %v", err)
	}
	if err := c.RemoveConvLabels(ctx, "42", []string{"vip"}); err != nil {
		t.Fatalf("RemoveConvLabels failed: %v", err)
	}
	labels, _ := c.GetConvLabels(ctx, "42")
	if len(labels) != 1 || labels[0] != "subject:math" {
		t.Errorf("expected [subject:math], got %v", labels)
	}
}

func TestSendChoice_TruncatesToWhatsAppLimits(t *testing.T) {
	f := &fakeChatwoot{}
	c := newTestClient(t, f)

	options := []models.Option{
		{Label: "A very long option label that exceeds", Value: "long"},
		{Label: "Line\nbreak", Value: "lb"},
	}
	if err := c.SendChoice(context.Background(), "42", "Kies", options); err != nil {
		t.Fatalf("SendChoice failed: %v", err)
	}
	if len(f.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(f.messages))
	}
	msg := f.messages[0]
	if msg["content_type"] != "input_select" {
		t.Errorf("expected input_select, got %v", msg["content_type"])
	}
	items := msg["content_attributes"].(map[string]any)["items"].([]any)
	first := items[0].(map[string]any)
	if title := first["title"].(string); len([]rune(title)) != maxItemTitleRunes || !strings.HasSuffix(title, "...") {
		t.Errorf("unexpected truncated title %q", title)
	}
	if second := items[1].(map[string]any); second["title"] != "Line break" {
		t.Errorf("expected newline to be flattened, got %q", second["title"])
	}
}

func TestAssignAndHTTPError(t *testing.T) {
	f := &fakeChatwoot{}
	c := newTestClient(t, f)
	ctx := context.Background()

	if err := c.Assign(ctx, "42", 5); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if f.assigned != 5 {
		t.Errorf("expected assignee 5, got %d", f.assigned)
	}

	f.failWith = http.StatusServiceUnavailable
	err := c.SendText(ctx, "42", "hallo")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if !httpErr.Temporary() {
		t.Error("503 must be temporary")
	}
	if (&HTTPError{StatusCode: http.StatusNotFound}).Temporary() {
		t.Error("404 must not be temporary")
	}
	if !(&HTTPError{StatusCode: http.StatusTooManyRequests}).Temporary() {
		t.Error("429 must be temporary")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"message_created"}`)
	sig := Sign("s3cret", body)
	if !VerifySignature("s3cret", body, sig) {
		t.Error("valid signature rejected")
	}
	if !VerifySignature("s3cret", body, strings.ToUpper(sig)) {
		t.Error("signature comparison must ignore hex case")
	}
	if VerifySignature("other", body, sig) {
		t.Error("signature with wrong secret accepted")
	}
	if VerifySignature("s3cret", body, "") {
		t.Error("missing signature accepted")
	}
}

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		incoming    bool
		wantPayload string
		wantContact string
		wantErr     bool
	}{
		{
			name:        "text message",
			body:        `{"event":"message_created","id":101,"message_type":"incoming","content":" Hoi ","created_at":1700000000,"conversation":{"id":42},"sender":{"id":7,"name":"Anna"}}`,
			incoming:    true,
			wantContact: "7",
		},
		{
			name:        "button payload wins",
			body:        `{"event":"message_created","id":"102","message_type":"incoming","content":"Nederlands","content_attributes":{"payload":"nl"},"conversation":{"id":42},"contact":{"id":8}}`,
			incoming:    true,
			wantPayload: "nl",
			wantContact: "8",
		},
		{
			name:        "submitted values",
			body:        `{"event":"message_created","id":103,"message_type":"incoming","content":"","message":{"content_attributes":{"submitted_values":[{"title":"Ja","value":"yes"}]}},"conversation":{"id":42},"sender":{"id":7}}`,
			incoming:    true,
			wantPayload: "yes",
			wantContact: "7",
		},
		{
			name:     "outgoing message",
			body:     `{"event":"message_created","id":104,"message_type":"outgoing","conversation":{"id":42},"sender":{"id":1}}`,
			incoming: false,
		},
		{
			name:     "missing conversation",
			body:     `{"event":"message_created","id":105,"message_type":"incoming","sender":{"id":7}}`,
			incoming: true,
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseWebhook([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseWebhook failed: %v", err)
			}
			if p.IsIncomingMessage() != tt.incoming {
				t.Fatalf("IsIncomingMessage() = %v, want %v", p.IsIncomingMessage(), tt.incoming)
			}
			if !tt.incoming {
				return
			}
			ev, err := p.InboundEvent()
			if tt.wantErr {
				if !errors.Is(err, models.ErrInvalidEvent) {
					t.Fatalf("expected ErrInvalidEvent, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("InboundEvent failed: %v", err)
			}
			if ev.Payload != tt.wantPayload {
				t.Errorf("payload = %q, want %q", ev.Payload, tt.wantPayload)
			}
			if ev.ContactID != tt.wantContact {
				t.Errorf("contact = %q, want %q", ev.ContactID, tt.wantContact)
			}
			if ev.ConversationID != "42" {
				t.Errorf("conversation = %q, want 42", ev.ConversationID)
			}
		})
	}

	if _, err := ParseWebhook([]byte(`{not json`)); !errors.Is(err, models.ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent for malformed body, got %v", err)
	}
}
