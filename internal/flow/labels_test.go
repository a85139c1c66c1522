package flow

import (
	"reflect"
	"testing"
	"time"

	"github.com/stephenadei/tutorbot/internal/models"
)

func TestDerivedLabels(t *testing.T) {
	yes, no := true, false
	now := time.Now()

	tests := []struct {
		name    string
		contact models.Contact
		conv    models.Conversation
		want    []string
	}{
		{
			name: "empty",
			want: nil,
		},
		{
			name:    "adult self with contact level",
			contact: models.Contact{IsAdult: &yes, AgeVerifiedAt: &now, SchoolLevel: "hbo"},
			conv:    models.Conversation{ForWho: forWhoSelf, AgeVerified: true, Subject: "stats"},
			want:    []string{"age_verified", "audience:hbo", "subject:stats"},
		},
		{
			name:    "minor learner in handoff",
			contact: models.Contact{IsAdult: &yes},
			conv: models.Conversation{ForWho: forWhoOther, LearnerIsAdult: &no, AgeVerified: true,
				PendingIntent: models.IntentHandoff, PlanningProfile: models.SegmentNew},
			want: []string{"intent_handoff", "minor", "segment:new"},
		},
		{
			name:    "age not verified in this conversation",
			contact: models.Contact{IsAdult: &yes},
			conv:    models.Conversation{ForWho: forWhoSelf},
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DerivedLabels(tt.contact, tt.conv)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DerivedLabels = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLabelDiffKeepsForeignLabels(t *testing.T) {
	current := []string{"vip", "subject:math", "age_verified"}
	derived := []string{"subject:stats", "age_verified"}

	add, remove := labelDiff(current, derived)
	if !reflect.DeepEqual(add, []string{"subject:stats"}) {
		t.Errorf("add = %v", add)
	}
	if !reflect.DeepEqual(remove, []string{"subject:math"}) {
		t.Errorf("remove = %v", remove)
	}
}

func TestIsManagedLabel(t *testing.T) {
	for _, l := range []string{"minor", "audience:vwo", "segment:weekend"} {
		if !IsManagedLabel(l) {
			t.Errorf("expected %q to be managed", l)
		}
	}
	for _, l := range []string{"vip", "lead", "audiences"} {
		if IsManagedLabel(l) {
			t.Errorf("expected %q to be left alone", l)
		}
	}
}
