// Package testutil provides fakes and helpers shared by tutorbot tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stephenadei/tutorbot/internal/models"
	"github.com/stephenadei/tutorbot/internal/store"
)

// SentMessage is one message captured by RecordingGateway.
type SentMessage struct {
	ConversationID string
	Text           string
	Options        []models.Option
}

// RecordingGateway captures outbound messages instead of sending them.
// Setting Err makes every send fail.
type RecordingGateway struct {
	mu   sync.Mutex
	sent []SentMessage
	Err  error
}

func (g *RecordingGateway) SendText(_ context.Context, conversationID, text string) error {
	return g.record(SentMessage{ConversationID: conversationID, Text: text})
}

func (g *RecordingGateway) SendChoice(_ context.Context, conversationID, text string, options []models.Option) error {
	return g.record(SentMessage{ConversationID: conversationID, Text: text, Options: options})
}

func (g *RecordingGateway) record(m SentMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return g.Err
	}
	g.sent = append(g.sent, m)
	return nil
}

// Sent returns a copy of everything sent so far.
func (g *RecordingGateway) Sent() []SentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]SentMessage(nil), g.sent...)
}

// Last returns the most recent message, or the zero value.
func (g *RecordingGateway) Last() SentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sent) == 0 {
		return SentMessage{}
	}
	return g.sent[len(g.sent)-1]
}

// Reset forgets the recorded messages.
func (g *RecordingGateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = nil
}

// HasOption reports whether the message offers an option with value.
func (m SentMessage) HasOption(value string) bool {
	for _, o := range m.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// ScriptedExtractor returns canned facts for exact input texts and records
// every call.
type ScriptedExtractor struct {
	mu      sync.Mutex
	Answers map[string]models.Facts
	Err     error
	calls   []string
}

func (x *ScriptedExtractor) Extract(_ context.Context, text string) (models.Facts, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls = append(x.calls, text)
	if x.Err != nil {
		return models.Facts{}, x.Err
	}
	return x.Answers[text], nil
}

// Calls returns the texts passed to Extract.
func (x *ScriptedExtractor) Calls() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.calls...)
}

// ErrInjected is returned by FailingStore for failing operations.
var ErrInjected = errors.New("injected store failure")

// FailingStore wraps an AttributeStore and fails the named operations.
// Operation names are the method names, e.g. "SetConvAttrs".
type FailingStore struct {
	store.AttributeStore

	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

// NewFailingStore wraps inner.
func NewFailingStore(inner store.AttributeStore) *FailingStore {
	return &FailingStore{AttributeStore: inner, fail: make(map[string]bool)}
}

// Fail toggles failure of an operation.
func (s *FailingStore) Fail(op string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = fail
}

// Calls returns the operations invoked so far, in order.
func (s *FailingStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *FailingStore) check(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, op)
	if s.fail[op] {
		return ErrInjected
	}
	return nil
}

func (s *FailingStore) GetContactAttrs(ctx context.Context, id string) (models.Attrs, error) {
	if err := s.check("GetContactAttrs"); err != nil {
		return nil, err
	}
	return s.AttributeStore.GetContactAttrs(ctx, id)
}

func (s *FailingStore) SetContactAttrs(ctx context.Context, id string, attrs models.Attrs) error {
	if err := s.check("SetContactAttrs"); err != nil {
		return err
	}
	return s.AttributeStore.SetContactAttrs(ctx, id, attrs)
}

func (s *FailingStore) GetConvAttrs(ctx context.Context, id string) (models.Attrs, error) {
	if err := s.check("GetConvAttrs"); err != nil {
		return nil, err
	}
	return s.AttributeStore.GetConvAttrs(ctx, id)
}

func (s *FailingStore) SetConvAttrs(ctx context.Context, id string, attrs models.Attrs) error {
	if err := s.check("SetConvAttrs"); err != nil {
		return err
	}
	return s.AttributeStore.SetConvAttrs(ctx, id, attrs)
}

func (s *FailingStore) GetConvLabels(ctx context.Context, id string) ([]string, error) {
	if err := s.check("GetConvLabels"); err != nil {
		return nil, err
	}
	return s.AttributeStore.GetConvLabels(ctx, id)
}

func (s *FailingStore) AddConvLabels(ctx context.Context, id string, labels []string) error {
	if err := s.check("AddConvLabels"); err != nil {
		return err
	}
	return s.AttributeStore.AddConvLabels(ctx, id, labels)
}

func (s *FailingStore) RemoveConvLabels(ctx context.Context, id string, labels []string) error {
	if err := s.check("RemoveConvLabels"); err != nil {
		return err
	}
	return s.AttributeStore.RemoveConvLabels(ctx, id, labels)
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// CreateFormRequest creates a POST request with a URL-encoded form body.
func CreateFormRequest(t testing.TB, url, form string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(form))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
