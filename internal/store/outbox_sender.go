// Package store provides the OutboxSender for processing outgoing messages.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// OutboxSendFunc is the callback that performs the actual message send.
// Returning an error wrapped with backoff.Permanent stops further attempts.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// Outbox retry policy.
const (
	DefaultOutboxMaxAttempts = 6
	outboxBaseDelay          = 10 * time.Second
	outboxMaxDelay           = 10 * time.Minute
)

// OutboxSender periodically claims due outbox messages and attempts to send them.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	maxAttempts    int
	onResult       func(sent bool)
}

// NewOutboxSender creates a new OutboxSender.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		maxAttempts:    DefaultOutboxMaxAttempts,
	}
}

// OnResult registers a callback invoked after every delivery attempt.
func (s *OutboxSender) OnResult(fn func(sent bool)) {
	s.onResult = fn
}

// RecoverStaleMessages requeues messages stuck in sending state (crash recovery).
// Should be called once at startup.
func (s *OutboxSender) RecoverStaleMessages(ctx context.Context) error {
	n, err := s.repo.RequeueStaleSendingMessages(ctx, time.Now().Add(-s.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run polls the outbox until ctx is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	pollLoop(ctx, "OutboxSender", s.pollInterval, s.poll)
}

func (s *OutboxSender) poll(ctx context.Context) {
	now := time.Now()
	msgs, err := s.repo.ClaimDueOutboxMessages(ctx, now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.poll: claim failed", "error", err)
		return
	}

	for _, msg := range msgs {
		slog.Debug("OutboxSender.poll: sending message", "id", msg.ID, "conversationID", msg.ConversationID, "kind", msg.Kind)
		err := s.sendFunc(ctx, msg)
		if s.onResult != nil {
			s.onResult(err == nil)
		}
		if err == nil {
			if err := s.repo.MarkOutboxMessageSent(ctx, msg.ID); err != nil {
				slog.Error("OutboxSender.poll: mark sent error", "id", msg.ID, "error", err)
			}
			continue
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) || msg.Attempts+1 >= s.maxAttempts {
			slog.Error("OutboxSender.poll: giving up on message", "id", msg.ID, "conversationID", msg.ConversationID, "attempts", msg.Attempts+1, "error", err)
			if err := s.repo.GiveUpOutboxMessage(ctx, msg.ID, err.Error()); err != nil {
				slog.Error("OutboxSender.poll: give up error", "id", msg.ID, "error", err)
			}
			continue
		}

		next := now.Add(retryDelay(msg.Attempts))
		slog.Warn("OutboxSender.poll: send failed, will retry", "id", msg.ID, "nextAttempt", next, "error", err)
		if err := s.repo.FailOutboxMessage(ctx, msg.ID, err.Error(), next); err != nil {
			slog.Error("OutboxSender.poll: fail message error", "id", msg.ID, "error", err)
		}
	}
}

// retryDelay doubles from outboxBaseDelay per attempt, capped at outboxMaxDelay.
func retryDelay(attempts int) time.Duration {
	d := outboxBaseDelay
	for i := 0; i < attempts && d < outboxMaxDelay; i++ {
		d *= 2
	}
	if d > outboxMaxDelay {
		d = outboxMaxDelay
	}
	return d
}
