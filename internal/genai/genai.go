// Package genai extracts candidate intake facts from free text using the OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stephenadei/tutorbot/internal/models"
)

// Default model settings.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 500
)

var (
	// ErrNoChoicesReturned is returned when the API answers without a choice.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrNoJSON is returned when the completion contains no JSON object.
	ErrNoJSON = errors.New("completion contains no JSON object")
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completions adapts the SDK's completion service to chatService.
type completions struct {
	svc openai.ChatCompletionService
}

func (c completions) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// Client extracts facts with an OpenAI chat model.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
}

// NewClient initializes a client. The API key falls back to OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI client created", "model", cfg.Model, "temperature", cfg.Temperature, "maxTokens", cfg.MaxTokens)
	return &Client{
		chat:        completions{svc: cli.Chat.Completions},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Complete runs one system+user exchange and returns the reply text.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(c.maxTokens),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI.Complete: API call failed", "model", c.model, "error", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// extraction mirrors the JSON object the model is asked to return.
type extraction struct {
	IsAdult        *bool  `json:"is_adult"`
	ForWho         string `json:"for_who"`
	LearnerName    string `json:"learner_name"`
	SchoolLevel    string `json:"school_level"`
	TopicPrimary   string `json:"topic_primary"`
	TopicSecondary string `json:"topic_secondary"`
	Goals          string `json:"goals"`
	PreferredTimes string `json:"preferred_times"`
	LessonMode     string `json:"lesson_mode"`
	Toolset        string `json:"toolset"`
	Relationship   string `json:"relationship_to_learner"`
}

func (e extraction) facts() models.Facts {
	f := models.Facts{
		LearnerName:    strings.TrimSpace(e.LearnerName),
		SchoolLevel:    strings.TrimSpace(e.SchoolLevel),
		Subject:        strings.TrimSpace(e.TopicPrimary),
		Topic:          strings.TrimSpace(e.TopicSecondary),
		Goals:          strings.TrimSpace(e.Goals),
		PreferredTimes: strings.TrimSpace(e.PreferredTimes),
		Mode:           strings.TrimSpace(e.LessonMode),
		Toolset:        strings.TrimSpace(e.Toolset),
		Relationship:   strings.TrimSpace(e.Relationship),
		IsAdult:        e.IsAdult,
	}
	switch strings.ToLower(strings.TrimSpace(e.ForWho)) {
	case "":
	case "self":
		f.ForWho = "self"
	default:
		f.ForWho = "other"
	}
	if f.Relationship == "self" {
		f.Relationship = ""
	}
	return f
}

// Extract returns candidate facts found in text. Values are not normalized;
// callers must validate them against their own option sets.
func (c *Client) Extract(ctx context.Context, text string) (models.Facts, error) {
	out, err := c.Complete(ctx, extractionPrompt, text)
	if err != nil {
		return models.Facts{}, err
	}
	facts, err := ParseFacts(out)
	if err != nil {
		slog.Warn("GenAI.Extract: unparseable completion", "error", err)
		return models.Facts{}, err
	}
	slog.Debug("GenAI.Extract: facts extracted", "subject", facts.Subject, "schoolLevel", facts.SchoolLevel, "forWho", facts.ForWho)
	return facts, nil
}

// ParseFacts decodes the first JSON object in a completion. Models sometimes
// wrap the object in a markdown fence or prose.
func ParseFacts(completion string) (models.Facts, error) {
	start := strings.Index(completion, "{")
	end := strings.LastIndex(completion, "}")
	if start < 0 || end <= start {
		return models.Facts{}, ErrNoJSON
	}
	var e extraction
	if err := json.Unmarshal([]byte(completion[start:end+1]), &e); err != nil {
		return models.Facts{}, fmt.Errorf("failed to decode facts: %w", err)
	}
	return e.facts(), nil
}

const extractionPrompt = `You analyse the first message of a prospective tutoring student (Dutch or English) and extract intake information.
Return ONLY a JSON object with these keys; omit a key or use null when the message does not say:
- "is_adult": boolean, true only if the writer states or clearly implies the learner is 18+
- "for_who": "self" if the lessons are for the writer, otherwise "child", "student" or "other"
- "learner_name": first name of the learner
- "school_level": one of "po", "vmbo", "havo", "vwo", "mbo", "university_wo", "university_hbo", "adult".
  "6V", "5 vwo" and similar mean "vwo"; "4H" or "3e havo" mean "havo". University students are never "adult".
- "topic_primary": one of "math", "stats", "english", "programming", "science", "chemistry", "other"
- "topic_secondary": the specific course, e.g. "wiskunde B" or "calculus"
- "goals": exams, deadlines or learning goals
- "preferred_times": preferred days or times
- "lesson_mode": one of "online", "in_person", "hybrid"
- "toolset": one of "none", "python", "excel", "spss", "r", "other"
- "relationship_to_learner": "self", "parent", "teacher" or "other"
Never guess. Do not add other keys.`
