package flow

import (
	"testing"
	"time"

	"github.com/stephenadei/tutorbot/internal/models"
)

func TestClassify(t *testing.T) {
	since := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		contact models.Contact
		want    models.Segment
	}{
		{"nothing known", models.Contact{}, models.SegmentNew},
		{"customer since", models.Contact{CustomerSince: &since}, models.SegmentExisting},
		{"paid lesson", models.Contact{HasPaidLesson: true}, models.SegmentExisting},
		{"trial completed", models.Contact{TrialLessonCompleted: true}, models.SegmentExisting},
		{"broadcast beats history", models.Contact{ReturningBroadcast: true, HasPaidLesson: true}, models.SegmentReturningBroadcast},
		{"weekend beats everything", models.Contact{WeekendEligible: true, ReturningBroadcast: true, HasPaidLesson: true}, models.SegmentWeekend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.contact); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsWeekendNow(t *testing.T) {
	loc := LoadLocation(DefaultTimezone)
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"friday afternoon", time.Date(2024, 10, 11, 17, 59, 0, 0, loc), false},
		{"friday evening", time.Date(2024, 10, 11, 18, 0, 0, 0, loc), true},
		{"saturday", time.Date(2024, 10, 12, 11, 0, 0, 0, loc), true},
		{"sunday late", time.Date(2024, 10, 13, 23, 59, 0, 0, loc), true},
		{"monday early", time.Date(2024, 10, 14, 0, 0, 0, 0, loc), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWeekendNow(tt.at.UTC(), loc); got != tt.want {
				t.Errorf("IsWeekendNow(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

// A whitelisted contact writing on Saturday is planned as weekend with the
// discount flag set, regardless of any other history.
func TestWeekendContactOnSaturday(t *testing.T) {
	loc := LoadLocation(DefaultTimezone)
	saturday := time.Date(2024, 10, 12, 11, 0, 0, 0, loc)
	c := models.Contact{WeekendEligible: true, HasPaidLesson: true}

	if seg := Classify(c); seg != models.SegmentWeekend {
		t.Fatalf("expected weekend segment, got %s", seg)
	}
	if !IsWeekendNow(saturday, loc) {
		t.Fatal("expected Saturday to be weekend time")
	}
	slots := Candidates(ProfileFor(models.SegmentWeekend), saturday, loc, nil)
	if len(slots) == 0 {
		t.Fatal("expected weekend candidates")
	}
	for _, s := range slots {
		if wd := s.In(loc).Weekday(); wd != time.Saturday && wd != time.Sunday {
			t.Errorf("weekend profile offered %v on %v", s, wd)
		}
	}
}

func TestIsAgeValid(t *testing.T) {
	now := time.Date(2024, 10, 14, 8, 0, 0, 0, time.UTC)
	yes := true
	at := func(d time.Duration) *time.Time {
		v := now.Add(-d)
		return &v
	}
	tests := []struct {
		name       string
		isAdult    *bool
		verifiedAt *time.Time
		want       bool
	}{
		{"fresh", &yes, at(time.Hour), true},
		{"exactly ttl", &yes, at(DefaultAgeTTL), true},
		{"just past ttl", &yes, at(DefaultAgeTTL + time.Second), false},
		{"no answer", nil, at(time.Hour), false},
		{"no timestamp", &yes, nil, false},
	}
	for _, tt := range tests {
		if got := IsAgeValid(tt.isAdult, tt.verifiedAt, now, DefaultAgeTTL); got != tt.want {
			t.Errorf("%s: IsAgeValid = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNeedsGuardian(t *testing.T) {
	no := false
	tests := []struct {
		name string
		conv models.Conversation
		want bool
	}{
		{"minor self", models.Conversation{ForWho: forWhoSelf}, true},
		{"minor child of writer", models.Conversation{ForWho: forWhoOther, Relationship: relationshipParent, LearnerIsAdult: &no}, false},
		{"minor pupil of teacher", models.Conversation{ForWho: forWhoOther, Relationship: "teacher", LearnerIsAdult: &no}, true},
		{"unknown age", models.Conversation{ForWho: forWhoOther, Relationship: "family"}, false},
	}
	contact := models.Contact{IsAdult: &no}
	for _, tt := range tests {
		if got := needsGuardian(contact, tt.conv); got != tt.want {
			t.Errorf("%s: needsGuardian = %v, want %v", tt.name, got, tt.want)
		}
	}
}
