// Package models defines the core data structures for tutorbot.
//
// It includes the typed contact and conversation schemas, the closed set of
// pending intents, inbound events and outbound replies, which are shared across
// modules.
package models

import (
	"errors"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrUnknownAttribute      = errors.New("unknown attribute key")
	ErrInvalidAttributeValue = errors.New("invalid attribute value")
	ErrInvalidEvent          = errors.New("invalid inbound event")
	ErrMissingMessageID      = errors.New("message id is required")
	ErrMissingConversationID = errors.New("conversation id is required")
	ErrMissingContactID      = errors.New("contact id is required")
	ErrEmptyReply            = errors.New("reply text cannot be empty")
	ErrTooManyOptions        = errors.New("too many reply options")
	ErrNotFound              = errors.New("not found")
	ErrInvalidPendingIntent  = errors.New("invalid pending intent")
	ErrAttributeStoreFailure = errors.New("attribute store unavailable")
)

// MaxReplyOptions bounds the number of options a single choice prompt may carry.
const MaxReplyOptions = 10

// Language is a conversation language tag.
type Language string

const (
	// LanguageDutch is the default language of the business.
	LanguageDutch Language = "nl"
	// LanguageEnglish is the alternative language.
	LanguageEnglish Language = "en"
	// LanguageUnknown is returned by the detector when no language wins.
	LanguageUnknown Language = "unknown"
)

// IsKnown reports whether l is a supported language.
func (l Language) IsKnown() bool {
	return l == LanguageDutch || l == LanguageEnglish
}

// Segment is the derived customer classification.
type Segment string

const (
	SegmentNew                Segment = "new"
	SegmentExisting           Segment = "existing"
	SegmentReturningBroadcast Segment = "returning_broadcast"
	SegmentWeekend            Segment = "weekend"
)

// IsValidSegment checks if the given segment is one of the closed set.
func IsValidSegment(s Segment) bool {
	switch s {
	case SegmentNew, SegmentExisting, SegmentReturningBroadcast, SegmentWeekend:
		return true
	default:
		return false
	}
}

// InboundEvent is one decoded webhook delivery.
type InboundEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	ContactID      string    `json:"contact_id"`
	Text           string    `json:"text,omitempty"`
	Payload        string    `json:"payload,omitempty"` // selected option value, takes precedence over Text
	ContactName    string    `json:"contact_name,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Validate checks that the identifiers needed for dedup and dispatch are present.
func (e *InboundEvent) Validate() error {
	if e.MessageID == "" {
		return ErrMissingMessageID
	}
	if e.ConversationID == "" {
		return ErrMissingConversationID
	}
	if e.ContactID == "" {
		return ErrMissingContactID
	}
	return nil
}

// Input returns the payload if present, otherwise the free text.
func (e *InboundEvent) Input() string {
	if e.Payload != "" {
		return e.Payload
	}
	return e.Text
}

// Option is a single selectable choice of a menu prompt.
type Option struct {
	Label string `json:"label"` // shown to the user
	Value string `json:"value"` // returned as payload when selected
}

// Reply is one outbound message produced by a transition.
type Reply struct {
	Text    string   `json:"text"`
	Options []Option `json:"options,omitempty"`
}

// IsChoice reports whether the reply must be rendered as a menu.
func (r Reply) IsChoice() bool {
	return len(r.Options) > 0
}

// Validate performs basic validation on a reply before it is handed to a gateway.
func (r Reply) Validate() error {
	if r.Text == "" {
		return ErrEmptyReply
	}
	if len(r.Options) > MaxReplyOptions {
		return ErrTooManyOptions
	}
	return nil
}

// HandoffReason names why the automated flow deferred to a human.
type HandoffReason string

const (
	HandoffCorrectionBudget HandoffReason = "correction_budget_exhausted"
	HandoffGuardian         HandoffReason = "guardian_unresolved"
	HandoffExplicit         HandoffReason = "explicit_request"
	HandoffRepeatedPrompt   HandoffReason = "repeated_prompt"
)

// HandoffRequest is the "assign to human" action emitted by the dialogue engine.
type HandoffRequest struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	ContactID      string        `json:"contact_id"`
	Reason         HandoffReason `json:"reason"`
	At             time.Time     `json:"at"`
}

// LessonRequest is published when a user picks a planning slot; booking is external.
type LessonRequest struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	ContactID      string    `json:"contact_id"`
	Segment        Segment   `json:"segment"`
	Slot           string    `json:"slot"`
	Subject        string    `json:"subject,omitempty"`
	SchoolLevel    string    `json:"school_level,omitempty"`
	WeekendRate    bool      `json:"weekend_rate"`
	At             time.Time `json:"at"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusIgnored indicates a webhook event was acknowledged but not processed.
	APIStatusIgnored APIStatus = "ignored"
	// APIStatusDuplicate indicates a webhook event was already processed.
	APIStatusDuplicate APIStatus = "duplicate"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithResult(result).Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusError).WithMessage(message).Build()
}

// Ignored acknowledges a webhook event that is not relevant to the dialogue engine.
func Ignored(message string) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusIgnored).WithMessage(message).Build()
}

// Duplicate acknowledges a redelivered webhook event.
func Duplicate() APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusDuplicate).Build()
}
