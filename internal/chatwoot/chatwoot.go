// Package chatwoot wraps the Chatwoot REST API used by tutorbot.
//
// The client doubles as an attribute store: contact and conversation custom
// attributes and conversation labels live in Chatwoot, which owns them. It also
// sends outgoing text and input_select menus and assigns conversations.
package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/stephenadei/tutorbot/internal/models"
)

// WhatsApp list limits enforced on input_select menus.
const (
	maxItemTitleRunes = 24
	maxItemValueRunes = 200
	maxBodyRunes      = 1024
)

// DefaultTimeout bounds a single Chatwoot request.
const DefaultTimeout = 5 * time.Second

// HTTPError is returned for non-2xx Chatwoot responses.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("chatwoot %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Opts holds configuration options for the Chatwoot client.
type Opts struct {
	BaseURL    string
	AccountID  string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option defines a configuration option for the Chatwoot client.
type Option func(*Opts)

// WithBaseURL sets the Chatwoot base URL, e.g. https://crm.example.com.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithAccountID sets the Chatwoot account id.
func WithAccountID(id string) Option {
	return func(o *Opts) { o.AccountID = id }
}

// WithToken sets the api_access_token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to one Chatwoot account.
type Client struct {
	baseURL   string
	accountID string
	token     string
	http      *http.Client
}

// NewClient creates a Chatwoot client. Missing options fall back to CW_URL,
// CW_ACC_ID and CW_TOKEN.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("CW_URL")
	}
	if cfg.AccountID == "" {
		cfg.AccountID = os.Getenv("CW_ACC_ID")
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("CW_TOKEN")
	}
	slog.Debug("Chatwoot client config loaded",
		"BaseURL", cfg.BaseURL,
		"AccountID_set", cfg.AccountID != "",
		"Token_set", cfg.Token != "")

	if cfg.BaseURL == "" || cfg.AccountID == "" || cfg.Token == "" {
		return nil, fmt.Errorf("chatwoot base URL, account id and token must be provided")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		accountID: cfg.AccountID,
		token:     cfg.Token,
		http:      hc,
	}, nil
}

func (c *Client) path(format string, args ...any) string {
	return fmt.Sprintf("/api/v1/accounts/%s", c.accountID) + fmt.Sprintf(format, args...)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("api_access_token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chatwoot %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("chatwoot %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("chatwoot %s %s: decode: %w", method, path, err)
		}
	}
	return nil
}

type attrsEnvelope struct {
	CustomAttributes map[string]any `json:"custom_attributes"`
	Payload          *attrsEnvelope `json:"payload,omitempty"`
}

func (e attrsEnvelope) attributes() map[string]any {
	if e.Payload != nil && e.Payload.CustomAttributes != nil {
		return e.Payload.CustomAttributes
	}
	return e.CustomAttributes
}

// stringify renders Chatwoot attribute values, which may be numbers or
// booleans when set from the dashboard, in their string form.
func stringify(raw map[string]any) models.Attrs {
	out := make(models.Attrs, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		case bool:
			if val {
				out[k] = "true"
			} else {
				out[k] = "false"
			}
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

// merge overlays changes on current. Empty values delete the key. Foreign keys
// managed by other tools are preserved.
func merge(current map[string]any, changes models.Attrs) map[string]any {
	out := make(map[string]any, len(current)+len(changes))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range changes {
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

func (c *Client) rawContactAttrs(ctx context.Context, contactID string) (map[string]any, error) {
	var env attrsEnvelope
	if err := c.do(ctx, http.MethodGet, c.path("/contacts/%s", contactID), nil, &env); err != nil {
		return nil, err
	}
	return env.attributes(), nil
}

func (c *Client) rawConvAttrs(ctx context.Context, conversationID string) (map[string]any, error) {
	var env attrsEnvelope
	if err := c.do(ctx, http.MethodGet, c.path("/conversations/%s", conversationID), nil, &env); err != nil {
		return nil, err
	}
	return env.attributes(), nil
}

// GetContactAttrs returns the allow-listed custom attributes of a contact.
func (c *Client) GetContactAttrs(ctx context.Context, contactID string) (models.Attrs, error) {
	raw, err := c.rawContactAttrs(ctx, contactID)
	if err != nil {
		return nil, err
	}
	return models.FilterContactAttrs(stringify(raw)), nil
}

// SetContactAttrs merges attrs into the contact's custom attributes.
func (c *Client) SetContactAttrs(ctx context.Context, contactID string, attrs models.Attrs) error {
	if err := models.ValidateContactAttrs(attrs); err != nil {
		return err
	}
	current, err := c.rawContactAttrs(ctx, contactID)
	if err != nil {
		return err
	}
	body := map[string]any{"custom_attributes": merge(current, attrs)}
	if err := c.do(ctx, http.MethodPut, c.path("/contacts/%s", contactID), body, nil); err != nil {
		slog.Error("Chatwoot.SetContactAttrs failed", "contactID", contactID, "error", err)
		return err
	}
	slog.Debug("Chatwoot.SetContactAttrs succeeded", "contactID", contactID, "keys", attrs.Keys())
	return nil
}

// GetConvAttrs returns the allow-listed custom attributes of a conversation.
func (c *Client) GetConvAttrs(ctx context.Context, conversationID string) (models.Attrs, error) {
	raw, err := c.rawConvAttrs(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return models.FilterConvAttrs(stringify(raw)), nil
}

// SetConvAttrs merges attrs into the conversation's custom attributes.
func (c *Client) SetConvAttrs(ctx context.Context, conversationID string, attrs models.Attrs) error {
	if err := models.ValidateConvAttrs(attrs); err != nil {
		return err
	}
	current, err := c.rawConvAttrs(ctx, conversationID)
	if err != nil {
		return err
	}
	body := map[string]any{"custom_attributes": merge(current, attrs)}
	if err := c.do(ctx, http.MethodPost, c.path("/conversations/%s/custom_attributes", conversationID), body, nil); err != nil {
		slog.Error("Chatwoot.SetConvAttrs failed", "conversationID", conversationID, "error", err)
		return err
	}
	slog.Debug("Chatwoot.SetConvAttrs succeeded", "conversationID", conversationID, "keys", attrs.Keys())
	return nil
}

type labelsBody struct {
	Labels []string `json:"labels"`
}

type labelsResponse struct {
	Payload []string `json:"payload"`
	Labels  []string `json:"labels"`
}

// GetConvLabels returns the conversation labels, sorted.
func (c *Client) GetConvLabels(ctx context.Context, conversationID string) ([]string, error) {
	var resp labelsResponse
	if err := c.do(ctx, http.MethodGet, c.path("/conversations/%s/labels", conversationID), nil, &resp); err != nil {
		return nil, err
	}
	labels := resp.Payload
	if labels == nil {
		labels = resp.Labels
	}
	out := append([]string(nil), labels...)
	sort.Strings(out)
	return out, nil
}

// The labels endpoint replaces the whole set, so both helpers read first.
func (c *Client) writeLabels(ctx context.Context, conversationID string, edit func(set map[string]bool)) error {
	current, err := c.GetConvLabels(ctx, conversationID)
	if err != nil {
		return err
	}
	set := make(map[string]bool, len(current))
	for _, l := range current {
		set[l] = true
	}
	edit(set)
	labels := make([]string, 0, len(set))
	for l := range set {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return c.do(ctx, http.MethodPost, c.path("/conversations/%s/labels", conversationID), labelsBody{Labels: labels}, nil)
}

// AddConvLabels adds labels to the conversation, keeping existing ones.
func (c *Client) AddConvLabels(ctx context.Context, conversationID string, labels []string) error {
	return c.writeLabels(ctx, conversationID, func(set map[string]bool) {
		for _, l := range labels {
			if l = strings.TrimSpace(l); l != "" {
				set[l] = true
			}
		}
	})
}

// RemoveConvLabels removes labels from the conversation.
func (c *Client) RemoveConvLabels(ctx context.Context, conversationID string, labels []string) error {
	return c.writeLabels(ctx, conversationID, func(set map[string]bool) {
		for _, l := range labels {
			delete(set, l)
		}
	})
}

type messageItem struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type messageBody struct {
	Content           string         `json:"content"`
	ContentType       string         `json:"content_type"`
	MessageType       string         `json:"message_type"`
	Private           bool           `json:"private"`
	ContentAttributes map[string]any `json:"content_attributes,omitempty"`
}

// SendText posts an outgoing text message.
func (c *Client) SendText(ctx context.Context, conversationID, text string) error {
	body := messageBody{Content: text, ContentType: "text", MessageType: "outgoing"}
	if err := c.do(ctx, http.MethodPost, c.path("/conversations/%s/messages", conversationID), body, nil); err != nil {
		slog.Error("Chatwoot.SendText failed", "conversationID", conversationID, "error", err)
		return err
	}
	slog.Debug("Chatwoot.SendText succeeded", "conversationID", conversationID)
	return nil
}

// SendChoice posts an input_select menu. Titles, values and body are cut to
// the WhatsApp list limits.
func (c *Client) SendChoice(ctx context.Context, conversationID, text string, options []models.Option) error {
	if len(options) > models.MaxReplyOptions {
		options = options[:models.MaxReplyOptions]
	}
	items := make([]messageItem, 0, len(options))
	for _, o := range options {
		items = append(items, messageItem{
			Title: truncate(flatten(o.Label), maxItemTitleRunes),
			Value: truncate(flatten(o.Value), maxItemValueRunes),
		})
	}
	body := messageBody{
		Content:           truncate(text, maxBodyRunes),
		ContentType:       "input_select",
		MessageType:       "outgoing",
		ContentAttributes: map[string]any{"items": items},
	}
	if err := c.do(ctx, http.MethodPost, c.path("/conversations/%s/messages", conversationID), body, nil); err != nil {
		slog.Error("Chatwoot.SendChoice failed", "conversationID", conversationID, "error", err)
		return err
	}
	slog.Debug("Chatwoot.SendChoice succeeded", "conversationID", conversationID, "items", len(items))
	return nil
}

// Assign assigns the conversation to an agent.
func (c *Client) Assign(ctx context.Context, conversationID string, assigneeID int) error {
	body := map[string]int{"assignee_id": assigneeID}
	if err := c.do(ctx, http.MethodPost, c.path("/conversations/%s/assignments", conversationID), body, nil); err != nil {
		slog.Error("Chatwoot.Assign failed", "conversationID", conversationID, "assigneeID", assigneeID, "error", err)
		return err
	}
	slog.Info("Chatwoot.Assign: conversation assigned", "conversationID", conversationID, "assigneeID", assigneeID)
	return nil
}

func flatten(s string) string {
	return strings.NewReplacer("\n", " ", "\t", " ").Replace(s)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
