package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stephenadei/tutorbot/internal/messaging"
	"github.com/stephenadei/tutorbot/internal/metrics"
	"github.com/stephenadei/tutorbot/internal/models"
)

// Dialogue limits.
const (
	DefaultCorrectionBudget   = 2
	DefaultMaxRepeatedPrompts = 3
	DefaultGuardianAttempts   = 2
)

// Opts holds configuration for the Engine.
type Opts struct {
	Extractor          Extractor
	Router             messaging.HandoffRouter
	AgeTTL             time.Duration
	CorrectionBudget   int
	MaxRepeatedPrompts int
	GuardianAttempts   int
	Names              NameValidator
	Location           *time.Location
	Retry              Retrier
	Clock              func() time.Time
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithExtractor sets the fact extractor used on opening and correction messages.
func WithExtractor(x Extractor) Option {
	return func(o *Opts) { o.Extractor = x }
}

// WithHandoffRouter sets the consumer of handoff and lesson signals.
func WithHandoffRouter(r messaging.HandoffRouter) Option {
	return func(o *Opts) { o.Router = r }
}

// WithAgeTTL sets how long an age answer stays valid.
func WithAgeTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.AgeTTL = ttl }
}

// WithCorrectionBudget sets the number of rejected prefill rounds before handoff.
func WithCorrectionBudget(n int) Option {
	return func(o *Opts) { o.CorrectionBudget = n }
}

// WithNameValidator replaces the default name validator.
func WithNameValidator(v NameValidator) Option {
	return func(o *Opts) { o.Names = v }
}

// WithLocation sets the local time zone for planning and the weekend check.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithRetrier sets the timeout and retry policy for external calls.
func WithRetrier(r Retrier) Option {
	return func(o *Opts) { o.Retry = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// Engine is the dialogue state machine. Events for the same conversation are
// applied one at a time; different conversations run concurrently.
type Engine struct {
	state   StateManager
	gateway messaging.Gateway
	locks   *KeyedMutex
	opts    Opts
}

// NewEngine creates an Engine that reads and commits state through sm and
// replies through gw.
func NewEngine(sm StateManager, gw messaging.Gateway, opts ...Option) *Engine {
	cfg := Opts{
		Extractor:          NoopExtractor{},
		Router:             messaging.NopRouter{},
		AgeTTL:             DefaultAgeTTL,
		CorrectionBudget:   DefaultCorrectionBudget,
		MaxRepeatedPrompts: DefaultMaxRepeatedPrompts,
		GuardianAttempts:   DefaultGuardianAttempts,
		Names:              DefaultNameValidator(),
		Retry:              DefaultRetrier(),
		Clock:              time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = LoadLocation(DefaultTimezone)
	}
	slog.Debug("Engine.NewEngine: created", "ageTTL", cfg.AgeTTL, "correctionBudget", cfg.CorrectionBudget, "location", cfg.Location)
	return &Engine{state: sm, gateway: gw, locks: NewKeyedMutex(), opts: cfg}
}

// Handle applies one inbound event: load, decide, commit, then reply. A
// returned error wrapping models.ErrAttributeStoreFailure means nothing was
// committed and nothing was sent.
func (e *Engine) Handle(ctx context.Context, ev models.InboundEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidEvent, err)
	}

	unlock, err := e.locks.Lock(ctx, ev.ConversationID)
	if err != nil {
		return err
	}
	defer unlock()

	before, err := e.state.Load(ctx, ev.ContactID, ev.ConversationID)
	if err != nil {
		return e.drop(ev, "load", err)
	}
	if before.Conversation.LastProcessedMessageID == ev.MessageID {
		metrics.DedupHitsTotal.WithLabelValues("conversation").Inc()
		slog.Debug("Engine.Handle: message already applied", "conversationID", ev.ConversationID, "messageID", ev.MessageID)
		return nil
	}

	t := newTurn(before, ev, e.opts.Clock())
	intent := t.conv.PendingIntent
	class := e.classify(t)
	slog.Debug("Engine.Handle: dispatching", "conversationID", ev.ConversationID, "intent", intent, "class", class)
	metrics.RecordTransition(string(intent), string(class))
	lookup(intent, class)(e, ctx, t)
	e.finish(t, before)

	after := t.snapshot()
	if err := e.state.Commit(ctx, before, after); err != nil {
		return e.drop(ev, "commit", err)
	}
	slog.Debug("Engine.Handle: transition committed", "conversationID", ev.ConversationID,
		"from", intent, "to", t.conv.PendingIntent, "replies", len(t.replies))

	e.deliver(ctx, t)
	e.emit(ctx, t)
	return nil
}

// drop gives up on an event the store could not serve. No reply is sent.
func (e *Engine) drop(ev models.InboundEvent, stage string, err error) error {
	metrics.EventsDroppedTotal.Inc()
	slog.Error("Engine.Handle: event dropped, attribute store unavailable", "stage", stage,
		"conversationID", ev.ConversationID, "messageID", ev.MessageID, "error", err, "alert", true)
	return fmt.Errorf("%w: %s: %v", models.ErrAttributeStoreFailure, stage, err)
}

// finish applies the bookkeeping every transition shares: re-prompt limits,
// derived segment and labels, and the processed message id.
func (e *Engine) finish(t *turn, before *Snapshot) {
	if t.invalid {
		t.conv.InvalidAttempts++
		intent := t.conv.PendingIntent
		guardianStep := intent == models.IntentGuardianName || intent == models.IntentGuardianPhone
		switch {
		case guardianStep && t.conv.InvalidAttempts >= e.opts.GuardianAttempts:
			e.startHandoff(t, models.HandoffGuardian)
		case t.conv.InvalidAttempts >= e.opts.MaxRepeatedPrompts:
			e.startHandoff(t, models.HandoffRepeatedPrompt)
		}
	} else {
		t.conv.InvalidAttempts = 0
	}

	t.contact.Segment = Classify(t.contact)
	if t.conv.IntakeCompleted {
		t.conv.PlanningProfile = t.contact.Segment
	}

	labels := DerivedLabels(t.contact, t.conv)
	for _, l := range before.Labels {
		if !IsManagedLabel(l) {
			labels = append(labels, l)
		}
	}
	t.labels = labels
	t.conv.LastProcessedMessageID = t.ev.MessageID
}

// deliver sends the replies of a committed transition. Each reply carries
// the key <messageID>:<seq> for idempotent delivery. Failures are logged only.
func (e *Engine) deliver(ctx context.Context, t *turn) {
	for i, r := range t.replies {
		key := fmt.Sprintf("%s:%d", t.ev.MessageID, i)
		rctx := messaging.WithDedupeKey(ctx, key)
		err := e.opts.Retry.Once(rctx, func(ctx context.Context) error {
			return messaging.Send(ctx, e.gateway, t.ev.ConversationID, r)
		})
		if err != nil {
			slog.Error("Engine.deliver: reply not sent", "conversationID", t.ev.ConversationID, "dedupeKey", key, "error", err)
		}
	}
}

// emit hands handoff, return and lesson signals to the router.
func (e *Engine) emit(ctx context.Context, t *turn) {
	router := e.opts.Router
	if t.handoff != nil {
		req := *t.handoff
		req.ID = uuid.NewString()
		metrics.HandoffsTotal.WithLabelValues(string(req.Reason)).Inc()
		if err := e.opts.Retry.Once(ctx, func(ctx context.Context) error { return router.Handoff(ctx, req) }); err != nil {
			slog.Error("Engine.emit: handoff routing failed", "conversationID", req.ConversationID, "error", err)
		}
	}
	if t.returnToBot {
		if err := e.opts.Retry.Once(ctx, func(ctx context.Context) error { return router.ReturnToBot(ctx, t.ev.ConversationID) }); err != nil {
			slog.Error("Engine.emit: return to bot failed", "conversationID", t.ev.ConversationID, "error", err)
		}
	}
	if t.lesson != nil {
		req := *t.lesson
		req.ID = uuid.NewString()
		if err := e.opts.Retry.Once(ctx, func(ctx context.Context) error { return router.LessonRequested(ctx, req) }); err != nil {
			slog.Error("Engine.emit: lesson request failed", "conversationID", req.ConversationID, "error", err)
		}
	}
}

// extract calls the fact extractor once. Failures yield no facts.
func (e *Engine) extract(ctx context.Context, input string) models.Facts {
	if strings.TrimSpace(input) == "" {
		return models.Facts{}
	}
	var facts models.Facts
	err := e.opts.Retry.Once(ctx, func(ctx context.Context) error {
		var err error
		facts, err = e.opts.Extractor.Extract(ctx, input)
		return err
	})
	if err != nil {
		slog.Warn("Engine.extract: extractor failed, continuing without facts", "error", err)
		return models.Facts{}
	}
	return e.cleanFacts(facts)
}

// cleanFacts maps extracted values onto the option sets and drops anything
// that would not pass the step's own validation.
func (e *Engine) cleanFacts(f models.Facts) models.Facts {
	f = canonicalFacts(f)
	if f.LearnerName != "" {
		name, ok := e.opts.Names.Validate(f.LearnerName)
		if !ok {
			name = ""
		}
		f.LearnerName = name
	}
	if f.Relationship != "" && f.ForWho == "" {
		f.ForWho = forWhoOther
	}
	if f.ForWho != forWhoOther {
		f.Relationship = ""
	}
	if !needsToolset(f.Subject) {
		f.Toolset = ""
	}
	f.Goals = clip(f.Goals, maxFreeTextRunes)
	f.PreferredTimes = clip(f.PreferredTimes, maxFreeTextRunes)
	f.Topic = clip(f.Topic, maxFreeTextRunes)
	return f
}

const maxFreeTextRunes = 500

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
