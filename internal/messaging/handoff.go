package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stephenadei/tutorbot/internal/models"
)

// Default NATS subjects.
const (
	DefaultHandoffSubject = "tutorbot.handoff"
	lessonSubjectSuffix   = ".lesson_request"
	returnSubjectSuffix   = ".return_to_bot"
)

// HandoffRouter consumes the signals the dialogue engine emits for humans:
// handoff requests, the return to the bot, and lesson requests whose booking
// happens elsewhere.
type HandoffRouter interface {
	Handoff(ctx context.Context, req models.HandoffRequest) error
	ReturnToBot(ctx context.Context, conversationID string) error
	LessonRequested(ctx context.Context, req models.LessonRequest) error
}

// NopRouter logs signals and drops them.
type NopRouter struct{}

func (NopRouter) Handoff(_ context.Context, req models.HandoffRequest) error {
	slog.Info("NopRouter.Handoff", "conversationID", req.ConversationID, "reason", req.Reason)
	return nil
}

func (NopRouter) ReturnToBot(_ context.Context, conversationID string) error {
	slog.Info("NopRouter.ReturnToBot", "conversationID", conversationID)
	return nil
}

func (NopRouter) LessonRequested(_ context.Context, req models.LessonRequest) error {
	slog.Info("NopRouter.LessonRequested", "conversationID", req.ConversationID, "slot", req.Slot)
	return nil
}

type assigner interface {
	Assign(ctx context.Context, conversationID string, assigneeID int) error
}

// ChatwootAssigner moves conversations between the human agent and the bot in Chatwoot.
type ChatwootAssigner struct {
	client  assigner
	humanID int
	botID   int
}

// NewChatwootAssigner creates a router that assigns handoffs to humanID and
// returns conversations to botID. A zero id disables that direction.
func NewChatwootAssigner(client assigner, humanID, botID int) *ChatwootAssigner {
	return &ChatwootAssigner{client: client, humanID: humanID, botID: botID}
}

func (a *ChatwootAssigner) Handoff(ctx context.Context, req models.HandoffRequest) error {
	if a.humanID == 0 {
		return nil
	}
	return a.client.Assign(ctx, req.ConversationID, a.humanID)
}

func (a *ChatwootAssigner) ReturnToBot(ctx context.Context, conversationID string) error {
	if a.botID == 0 {
		return nil
	}
	return a.client.Assign(ctx, conversationID, a.botID)
}

// LessonRequested is handled by other routers.
func (a *ChatwootAssigner) LessonRequested(context.Context, models.LessonRequest) error {
	return nil
}

// Publisher is the subset of *nats.Conn used for publishing.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes handoff signals as JSON on NATS subjects derived from a base subject.
type NATSPublisher struct {
	pub     Publisher
	subject string
}

// NewNATSPublisher creates a publisher. An empty subject uses DefaultHandoffSubject.
func NewNATSPublisher(pub Publisher, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultHandoffSubject
	}
	return &NATSPublisher{pub: pub, subject: subject}
}

// ConnectNATS dials NATS with unlimited reconnects.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("tutorbot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

func (p *NATSPublisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", subject, err)
	}
	if err := p.pub.Publish(subject, data); err != nil {
		slog.Error("NATSPublisher.publish failed", "subject", subject, "error", err)
		return err
	}
	slog.Debug("NATSPublisher.publish succeeded", "subject", subject)
	return nil
}

func (p *NATSPublisher) Handoff(_ context.Context, req models.HandoffRequest) error {
	return p.publish(p.subject, req)
}

func (p *NATSPublisher) ReturnToBot(_ context.Context, conversationID string) error {
	return p.publish(p.subject+returnSubjectSuffix, map[string]string{"conversation_id": conversationID})
}

func (p *NATSPublisher) LessonRequested(_ context.Context, req models.LessonRequest) error {
	return p.publish(p.subject+lessonSubjectSuffix, req)
}

// MultiRouter fans signals out to every router and joins their errors.
type MultiRouter []HandoffRouter

func (m MultiRouter) Handoff(ctx context.Context, req models.HandoffRequest) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.Handoff(ctx, req))
	}
	return errors.Join(errs...)
}

func (m MultiRouter) ReturnToBot(ctx context.Context, conversationID string) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.ReturnToBot(ctx, conversationID))
	}
	return errors.Join(errs...)
}

func (m MultiRouter) LessonRequested(ctx context.Context, req models.LessonRequest) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.LessonRequested(ctx, req))
	}
	return errors.Join(errs...)
}
