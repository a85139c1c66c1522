package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/stephenadei/tutorbot/internal/chatwoot"
	"github.com/stephenadei/tutorbot/internal/metrics"
	"github.com/stephenadei/tutorbot/internal/models"
	"github.com/stephenadei/tutorbot/internal/twiliowhatsapp"
)

// Channel names used in metrics and logs.
const (
	channelChatwoot = "chatwoot"
	channelTwilio   = "twilio"
)

// chatwootWebhookHandler handles Chatwoot webhook deliveries (POST /webhooks/chatwoot).
func (s *Server) chatwootWebhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		slog.Warn("Server.chatwootWebhookHandler: failed to read body", "error", err)
		metrics.RecordWebhook(channelChatwoot, "malformed")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unreadable request body"))
		return
	}

	if s.opts.ChatwootSecret != "" && !chatwoot.VerifySignature(s.opts.ChatwootSecret, body, r.Header.Get(chatwoot.SignatureHeader)) {
		slog.Warn("Server.chatwootWebhookHandler: invalid signature", "remoteAddr", r.RemoteAddr)
		metrics.RecordWebhook(channelChatwoot, "unauthorized")
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid signature"))
		return
	}

	payload, err := chatwoot.ParseWebhook(body)
	if err != nil {
		slog.Warn("Server.chatwootWebhookHandler: malformed payload", "error", err)
		metrics.RecordWebhook(channelChatwoot, "malformed")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if !payload.IsIncomingMessage() {
		slog.Debug("Server.chatwootWebhookHandler: ignoring event", "event", payload.Event, "messageType", payload.MessageType)
		metrics.RecordWebhook(channelChatwoot, "ignored")
		writeJSONResponse(w, http.StatusOK, models.Ignored("Not an incoming message"))
		return
	}

	ev, err := payload.InboundEvent()
	if err != nil {
		slog.Warn("Server.chatwootWebhookHandler: invalid event", "error", err)
		metrics.RecordWebhook(channelChatwoot, "malformed")
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	s.dispatch(w, r, channelChatwoot, ev)
}

// twilioWebhookHandler handles Twilio WhatsApp webhooks (POST /webhooks/twilio).
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		metrics.RecordWebhook(channelTwilio, "malformed")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form body"))
		return
	}

	if s.opts.TwilioValidator != nil &&
		!s.opts.TwilioValidator.Validate(s.opts.TwilioWebhookURL, r.PostForm, r.Header.Get(twiliowhatsapp.SignatureHeader)) {
		slog.Warn("Server.twilioWebhookHandler: invalid signature", "remoteAddr", r.RemoteAddr)
		metrics.RecordWebhook(channelTwilio, "unauthorized")
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid signature"))
		return
	}

	ev, err := twiliowhatsapp.ParseInbound(r.PostForm)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: invalid event", "error", err)
		metrics.RecordWebhook(channelTwilio, "malformed")
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	s.dispatch(w, r, channelTwilio, ev)
}

// dispatch claims the message id and runs the event through the dialogue
// engine. Processing is detached from the client connection so that a
// started transition always finishes. When the engine could not reach the
// attribute store the claim is released and 503 asks the sender to retry.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, channel string, ev models.InboundEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.HandleTimeout)
	defer cancel()
	log := slog.With("channel", channel, "messageID", ev.MessageID, "conversationID", ev.ConversationID,
		"correlationID", CorrelationID(r.Context()))

	claimed, err := s.dedup.RecordInbound(ctx, ev.MessageID, ev.ConversationID)
	if err != nil {
		log.Error("Server.dispatch: failed to record inbound message", "error", err)
		metrics.RecordWebhook(channel, "store_error")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Temporarily unavailable"))
		return
	}
	if !claimed {
		log.Info("Server.dispatch: duplicate delivery ignored")
		metrics.DedupHitsTotal.WithLabelValues("ingress").Inc()
		metrics.RecordWebhook(channel, "duplicate")
		writeJSONResponse(w, http.StatusOK, models.Duplicate())
		return
	}

	if err := s.handler.Handle(ctx, ev); err != nil {
		if errors.Is(err, models.ErrInvalidEvent) {
			log.Warn("Server.dispatch: event rejected by engine", "error", err)
			metrics.RecordWebhook(channel, "malformed")
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		log.Error("Server.dispatch: event not processed, releasing claim", "error", err)
		if relErr := s.dedup.ReleaseInbound(ctx, ev.MessageID); relErr != nil {
			log.Error("Server.dispatch: failed to release claim", "error", relErr)
		}
		metrics.RecordWebhook(channel, "dropped")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Temporarily unavailable"))
		return
	}

	if err := s.dedup.MarkProcessed(ctx, ev.MessageID); err != nil {
		log.Warn("Server.dispatch: failed to mark message processed", "error", err)
	}
	metrics.RecordWebhook(channel, "processed")
	log.Debug("Server.dispatch: event processed")
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"message_id": ev.MessageID}))
}
