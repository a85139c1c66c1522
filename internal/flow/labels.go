package flow

import (
	"sort"
	"strings"

	"github.com/stephenadei/tutorbot/internal/models"
)

// Managed conversation labels.
const (
	LabelAgeVerified   = "age_verified"
	LabelMinor         = "minor"
	LabelIntentHandoff = "intent_handoff"

	labelAudiencePrefix = "audience:"
	labelSubjectPrefix  = "subject:"
	labelSegmentPrefix  = "segment:"
)

// DerivedLabels recomputes the managed labels from committed state.
func DerivedLabels(c models.Contact, conv models.Conversation) []string {
	var out []string
	level := conv.SchoolLevel
	if level == "" && conv.ForWho != forWhoOther {
		level = c.SchoolLevel
	}
	if level != "" {
		out = append(out, labelAudiencePrefix+level)
	}
	if conv.Subject != "" {
		out = append(out, labelSubjectPrefix+conv.Subject)
	}
	if adult, _ := learnerAge(c, conv); adult != nil && conv.AgeVerified {
		if *adult {
			out = append(out, LabelAgeVerified)
		} else {
			out = append(out, LabelMinor)
		}
	}
	if conv.PlanningProfile != "" {
		out = append(out, labelSegmentPrefix+string(conv.PlanningProfile))
	}
	if conv.PendingIntent == models.IntentHandoff {
		out = append(out, LabelIntentHandoff)
	}
	sort.Strings(out)
	return out
}

// IsManagedLabel reports whether the label is owned by the dialogue engine.
func IsManagedLabel(l string) bool {
	switch l {
	case LabelAgeVerified, LabelMinor, LabelIntentHandoff:
		return true
	}
	return strings.HasPrefix(l, labelAudiencePrefix) ||
		strings.HasPrefix(l, labelSubjectPrefix) ||
		strings.HasPrefix(l, labelSegmentPrefix)
}

// labelDiff returns the labels to add and the stale managed labels to remove.
// Labels set by other tools are left alone.
func labelDiff(current, derived []string) (add, remove []string) {
	have := make(map[string]bool, len(current))
	for _, l := range current {
		have[l] = true
	}
	want := make(map[string]bool, len(derived))
	for _, l := range derived {
		want[l] = true
		if !have[l] {
			add = append(add, l)
		}
	}
	for _, l := range current {
		if IsManagedLabel(l) && !want[l] {
			remove = append(remove, l)
		}
	}
	return add, remove
}
