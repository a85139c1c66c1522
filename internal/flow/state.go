// Package flow implements the intake dialogue state machine: for every inbound
// message it loads the conversation snapshot, dispatches through the
// transition table, commits the resulting state and sends the replies.
package flow

import (
	"context"

	"github.com/stephenadei/tutorbot/internal/models"
)

// Snapshot is the persisted state of one conversation at a point in time.
type Snapshot struct {
	Contact      models.Contact
	Conversation models.Conversation
	Labels       []string
}

// Clone returns a copy whose label slice can be modified independently.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Labels = append([]string(nil), s.Labels...)
	return &c
}

// StateManager loads conversation snapshots and commits transitions.
type StateManager interface {
	// Load reads the contact, the conversation and its labels.
	Load(ctx context.Context, contactID, conversationID string) (*Snapshot, error)

	// Commit writes the difference between before and after. On failure every
	// write already applied is reverted, so the store ends up at either state.
	Commit(ctx context.Context, before, after *Snapshot) error
}

// Extractor proposes candidate slot values for free text. An empty result is
// valid; nothing it returns is authoritative.
type Extractor interface {
	Extract(ctx context.Context, text string) (models.Facts, error)
}

// NoopExtractor never finds anything.
type NoopExtractor struct{}

func (NoopExtractor) Extract(context.Context, string) (models.Facts, error) {
	return models.Facts{}, nil
}
