package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func completion(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestComplete_Success(t *testing.T) {
	mock := &mockChatService{resp: completion("Hello World")}
	client := &Client{chat: mock, model: "test-model", temperature: 0.1, maxTokens: 50}
	out, err := client.Complete(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if string(mock.params.Model) != "test-model" || len(mock.params.Messages) != 2 {
		t.Errorf("unexpected request params: model=%q messages=%d", mock.params.Model, len(mock.params.Messages))
	}
}

func TestComplete_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.Complete(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: openai.ChatCompletion{}}}
	_, err := client.Complete(context.Background(), "sys", "usr")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}

func TestExtract_MapsFields(t *testing.T) {
	content := "```json\n" + `{"is_adult": null, "for_who": "child", "school_level": "vwo", "topic_primary": "math", "topic_secondary": "wiskunde B", "lesson_mode": "online", "relationship_to_learner": "parent"}` + "\n```"
	client := &Client{chat: &mockChatService{resp: completion(content)}}

	facts, err := client.Extract(context.Background(), "Mijn dochter zit in 5 vwo en heeft moeite met wiskunde B")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if facts.Subject != "math" || facts.Topic != "wiskunde B" || facts.SchoolLevel != "vwo" {
		t.Errorf("unexpected facts: %+v", facts)
	}
	if facts.ForWho != "other" || facts.Relationship != "parent" || facts.Mode != "online" {
		t.Errorf("unexpected audience fields: %+v", facts)
	}
	if facts.IsAdult != nil {
		t.Errorf("null is_adult must stay unset, got %v", *facts.IsAdult)
	}
}

func TestParseFacts_NoJSON(t *testing.T) {
	if _, err := ParseFacts("I cannot help with that."); !errors.Is(err, ErrNoJSON) {
		t.Errorf("expected ErrNoJSON, got %v", err)
	}
	facts, err := ParseFacts(`{"for_who":"self","relationship_to_learner":"self"}`)
	if err != nil {
		t.Fatalf("ParseFacts failed: %v", err)
	}
	if facts.ForWho != "self" || facts.Relationship != "" {
		t.Errorf("unexpected facts: %+v", facts)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "gpt-4o" || cli.maxTokens != DefaultMaxTokens {
		t.Errorf("unexpected client config: model=%q maxTokens=%d", cli.model, cli.maxTokens)
	}
}
