package models

// PendingIntent names the single step a conversation is waiting on a reply for.
// The zero value means nothing is pending.
type PendingIntent string

// Pending intent constants.
const (
	IntentNone                 PendingIntent = ""
	IntentLanguageSelection    PendingIntent = "language_selection"
	IntentForWho               PendingIntent = "for_who"
	IntentRelationship         PendingIntent = "relationship"
	IntentAgeCheck             PendingIntent = "age_check"
	IntentGuardianName         PendingIntent = "guardian_name"
	IntentGuardianPhone        PendingIntent = "guardian_phone"
	IntentLearnerName          PendingIntent = "learner_name"
	IntentSchoolLevel          PendingIntent = "school_level"
	IntentSubject              PendingIntent = "subject"
	IntentGoals                PendingIntent = "goals"
	IntentPreferredTimes       PendingIntent = "preferred_times"
	IntentMode                 PendingIntent = "mode"
	IntentToolset              PendingIntent = "toolset"
	IntentPrefillConfirmation  PendingIntent = "prefill_confirmation"
	IntentPrefillCorrection    PendingIntent = "prefill_correction"
	IntentMenu                 PendingIntent = "menu"
	IntentChangeDetails        PendingIntent = "change_details"
	IntentPlanningConfirmation PendingIntent = "planning_confirmation"
	IntentEmailCapture         PendingIntent = "email_capture"
	IntentHandoff              PendingIntent = "handoff"
)

var allIntents = map[PendingIntent]bool{
	IntentNone:                 true,
	IntentLanguageSelection:    true,
	IntentForWho:               true,
	IntentRelationship:         true,
	IntentAgeCheck:             true,
	IntentGuardianName:         true,
	IntentGuardianPhone:        true,
	IntentLearnerName:          true,
	IntentSchoolLevel:          true,
	IntentSubject:              true,
	IntentGoals:                true,
	IntentPreferredTimes:       true,
	IntentMode:                 true,
	IntentToolset:              true,
	IntentPrefillConfirmation:  true,
	IntentPrefillCorrection:    true,
	IntentMenu:                 true,
	IntentChangeDetails:        true,
	IntentPlanningConfirmation: true,
	IntentEmailCapture:         true,
	IntentHandoff:              true,
}

// IsValidPendingIntent checks if the given intent is part of the closed set.
func IsValidPendingIntent(p PendingIntent) bool {
	return allIntents[p]
}

// IsSlot reports whether the intent collects one intake slot.
func (p PendingIntent) IsSlot() bool {
	switch p {
	case IntentForWho, IntentRelationship, IntentAgeCheck, IntentGuardianName, IntentGuardianPhone,
		IntentLearnerName, IntentSchoolLevel, IntentSubject, IntentGoals, IntentPreferredTimes,
		IntentMode, IntentToolset:
		return true
	default:
		return false
	}
}
