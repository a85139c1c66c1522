// Package store provides the DedupRepo interface for inbound message deduplication.
package store

import (
	"context"
	"time"
)

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	MessageID      string     `json:"message_id"`
	ConversationID string     `json:"conversation_id"`
	ReceivedAt     time.Time  `json:"received_at"`
	ProcessedAt    *time.Time `json:"processed_at"`
}

// DedupRepo records which inbound message ids have been claimed so that a
// redelivered webhook is applied at most once.
type DedupRepo interface {
	// IsDuplicate checks if a message ID has already been recorded.
	IsDuplicate(ctx context.Context, messageID string) (bool, error)

	// RecordInbound claims a message id. Returns false if the message was
	// already recorded (duplicate).
	RecordInbound(ctx context.Context, messageID, conversationID string) (bool, error)

	// ReleaseInbound drops a claim so that a redelivery is processed again.
	// It is used when processing failed before anything was committed.
	ReleaseInbound(ctx context.Context, messageID string) error

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error

	// PurgeInboundBefore deletes records received before the cutoff and
	// returns how many were removed.
	PurgeInboundBefore(ctx context.Context, before time.Time) (int, error)
}
