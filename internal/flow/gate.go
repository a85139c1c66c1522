package flow

import (
	"time"

	"github.com/stephenadei/tutorbot/internal/models"
)

// DefaultAgeTTL is how long an age answer stays valid.
const DefaultAgeTTL = 365 * 24 * time.Hour

// IsAgeValid reports whether an adult/minor flag was recorded and its
// verification is at most ttl old. The boundary itself is still valid.
func IsAgeValid(isAdult *bool, verifiedAt *time.Time, now time.Time, ttl time.Duration) bool {
	if isAdult == nil || verifiedAt == nil {
		return false
	}
	return now.Sub(*verifiedAt) <= ttl
}

// IsContactAgeValid applies IsAgeValid to a contact's own age answer.
func IsContactAgeValid(c models.Contact, now time.Time, ttl time.Duration) bool {
	return IsAgeValid(c.IsAdult, c.AgeVerifiedAt, now, ttl)
}

// learnerAge returns the age answer that gates this conversation: the
// contact's own for self, the conversation-scoped learner answer otherwise.
func learnerAge(c models.Contact, conv models.Conversation) (*bool, *time.Time) {
	if conv.ForWho == forWhoOther {
		return conv.LearnerIsAdult, conv.LearnerAgeVerifiedAt
	}
	return c.IsAdult, c.AgeVerifiedAt
}

// isMinor reports a recorded minor answer for the learner of this conversation.
func isMinor(c models.Contact, conv models.Conversation) bool {
	adult, _ := learnerAge(c, conv)
	return adult != nil && !*adult
}

// needsGuardian reports whether guardian details must be collected. A parent
// writing for their child is the guardian already.
func needsGuardian(c models.Contact, conv models.Conversation) bool {
	if !isMinor(c, conv) {
		return false
	}
	return !(conv.ForWho == forWhoOther && conv.Relationship == relationshipParent)
}
