package flow

import (
	"time"

	"github.com/stephenadei/tutorbot/internal/models"
)

// DefaultTimezone is the business's local time zone.
const DefaultTimezone = "Europe/Amsterdam"

// Classify derives the segment from committed contact attributes.
// Precedence: weekend whitelist, returning broadcast, any customer history, new.
func Classify(c models.Contact) models.Segment {
	switch {
	case c.WeekendEligible:
		return models.SegmentWeekend
	case c.ReturningBroadcast:
		return models.SegmentReturningBroadcast
	case c.CustomerSince != nil, c.HasPaidLesson, c.HasCompletedIntake, c.TrialLessonCompleted, c.LessonBooked:
		return models.SegmentExisting
	default:
		return models.SegmentNew
	}
}

// IsWeekendNow reports whether now falls between Friday 18:00 and the end of
// Sunday in loc. It is independent of the segment.
func IsWeekendNow(now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	switch local.Weekday() {
	case time.Friday:
		return local.Hour() >= 18
	case time.Saturday, time.Sunday:
		return true
	default:
		return false
	}
}

// LoadLocation resolves a time zone name, falling back to UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
