package flow

import (
	"time"

	"github.com/stephenadei/tutorbot/internal/models"
)

// turn is the working state of one transition. Handlers mutate the copies
// held here; nothing reaches the store until the engine commits.
type turn struct {
	ev      models.InboundEvent
	now     time.Time
	contact models.Contact
	conv    models.Conversation
	labels  []string
	input   string
	choice  string

	replies     []models.Reply
	invalid     bool
	handoff     *models.HandoffRequest
	lesson      *models.LessonRequest
	returnToBot bool

	slots   []time.Time
	slotsOK bool
}

func newTurn(s *Snapshot, ev models.InboundEvent, now time.Time) *turn {
	c := s.Clone()
	return &turn{
		ev:      ev,
		now:     now,
		contact: c.Contact,
		conv:    c.Conversation,
		labels:  c.Labels,
		input:   ev.Input(),
	}
}

func (t *turn) snapshot() *Snapshot {
	return &Snapshot{Contact: t.contact, Conversation: t.conv, Labels: t.labels}
}

// lang is the reply language: the contact's choice, Dutch until known.
func (t *turn) lang() models.Language {
	if t.contact.Language.IsKnown() {
		return t.contact.Language
	}
	return models.LanguageDutch
}

func (t *turn) say(key string, args ...any) {
	t.replies = append(t.replies, models.Reply{Text: phrase(t.lang(), key, args...)})
}

func (t *turn) reply(r models.Reply) {
	t.replies = append(t.replies, r)
}

func (t *turn) setIntent(intent models.PendingIntent) {
	t.conv.PendingIntent = intent
}

func (t *turn) isOther() bool {
	return t.conv.ForWho == forWhoOther
}
