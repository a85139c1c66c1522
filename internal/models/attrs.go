package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Attrs is the flat key-value form in which contact and conversation
// attributes travel to and from an attribute store. An empty value clears the key.
type Attrs map[string]string

// Contact attribute keys.
const (
	KeyLanguage             = "language"
	KeyName                 = "name"
	KeySchoolLevel          = "school_level"
	KeyIsAdult              = "is_adult"
	KeyAgeVerifiedAt        = "age_verified_at"
	KeyGuardianName         = "guardian_name"
	KeyGuardianPhone        = "guardian_phone"
	KeyGuardianConsent      = "guardian_consent"
	KeyEmail                = "email"
	KeySegment              = "segment"
	KeyHasCompletedIntake   = "has_completed_intake"
	KeyHasPaidLesson        = "has_paid_lesson"
	KeyTrialLessonCompleted = "trial_lesson_completed"
	KeyLessonBooked         = "lesson_booked"
	KeyCustomerSince        = "customer_since"
	KeyReturningBroadcast   = "returning_broadcast"
	KeyWeekendEligible      = "wknd_eligible"
)

// Conversation attribute keys.
const (
	KeyPendingIntent          = "pending_intent"
	KeyLanguagePrompted       = "language_prompted"
	KeyIntakeCompleted        = "intake_completed"
	KeyAgeVerified            = "age_verified"
	KeyPlanningProfile        = "planning_profile"
	KeyForWho                 = "for_who"
	KeyRelationship           = "relationship"
	KeyLearnerName            = "learner_name"
	KeyLearnerIsAdult         = "learner_is_adult"
	KeyLearnerAgeVerifiedAt   = "learner_age_verified_at"
	KeySubject                = "subject"
	KeyTopic                  = "topic"
	KeyGoals                  = "goals"
	KeyPreferredTimes         = "preferred_times"
	KeyMode                   = "mode"
	KeyToolset                = "toolset"
	KeyPrefill                = "prefill"
	KeyPrefillRejections      = "prefill_rejections"
	KeyInvalidAttempts        = "invalid_attempts"
	KeyCorrecting             = "correcting"
	KeyOpeningText            = "opening_text"
	KeyPlanningOffset         = "planning_offset"
	KeySelectedSlot           = "selected_slot"
	KeyWeekendDiscount        = "weekend_discount"
	KeyHandoffReason          = "handoff_reason"
	KeyLastProcessedMessageID = "last_processed_message_id"
	KeyConvSchoolLevel        = "learner_school_level"
)

var contactKeys = map[string]bool{
	KeyLanguage: true, KeyName: true, KeySchoolLevel: true, KeyIsAdult: true,
	KeyAgeVerifiedAt: true, KeyGuardianName: true, KeyGuardianPhone: true,
	KeyGuardianConsent: true, KeyEmail: true, KeySegment: true,
	KeyHasCompletedIntake: true, KeyHasPaidLesson: true, KeyTrialLessonCompleted: true,
	KeyLessonBooked: true, KeyCustomerSince: true, KeyReturningBroadcast: true,
	KeyWeekendEligible: true,
}

var conversationKeys = map[string]bool{
	KeyPendingIntent: true, KeyLanguagePrompted: true, KeyIntakeCompleted: true,
	KeyAgeVerified: true, KeyPlanningProfile: true, KeyForWho: true,
	KeyRelationship: true, KeyLearnerName: true, KeyLearnerIsAdult: true,
	KeyLearnerAgeVerifiedAt: true, KeySubject: true, KeyTopic: true, KeyGoals: true,
	KeyPreferredTimes: true, KeyMode: true, KeyToolset: true, KeyPrefill: true,
	KeyPrefillRejections: true, KeyInvalidAttempts: true, KeyCorrecting: true,
	KeyOpeningText: true, KeyPlanningOffset: true, KeySelectedSlot: true,
	KeyWeekendDiscount: true, KeyHandoffReason: true, KeyLastProcessedMessageID: true,
	KeyConvSchoolLevel: true,
}

// ValidateContactAttrs rejects keys outside the contact allow-list.
func ValidateContactAttrs(a Attrs) error {
	for k := range a {
		if !contactKeys[k] {
			return fmt.Errorf("%w: contact %q", ErrUnknownAttribute, k)
		}
	}
	return nil
}

// ValidateConvAttrs rejects keys outside the conversation allow-list and
// pending intents outside the closed set.
func ValidateConvAttrs(a Attrs) error {
	for k, v := range a {
		if !conversationKeys[k] {
			return fmt.Errorf("%w: conversation %q", ErrUnknownAttribute, k)
		}
		if k == KeyPendingIntent && !IsValidPendingIntent(PendingIntent(v)) {
			return fmt.Errorf("%w: %q", ErrInvalidPendingIntent, v)
		}
	}
	return nil
}

// FilterContactAttrs drops keys outside the contact allow-list. It is applied to
// data read from stores that may carry attributes managed by other tools.
func FilterContactAttrs(a Attrs) Attrs {
	return filter(a, contactKeys)
}

// FilterConvAttrs drops keys outside the conversation allow-list.
func FilterConvAttrs(a Attrs) Attrs {
	return filter(a, conversationKeys)
}

func filter(a Attrs, allowed map[string]bool) Attrs {
	out := make(Attrs, len(a))
	for k, v := range a {
		if allowed[k] {
			out[k] = v
		}
	}
	return out
}

// Diff returns the keys whose value differs between before and after. Keys
// present in before but absent from after are returned with an empty value.
func Diff(before, after Attrs) Attrs {
	changed := Attrs{}
	for k, v := range after {
		if before[k] != v {
			changed[k] = v
		}
	}
	for k, v := range before {
		if _, ok := after[k]; !ok && v != "" {
			changed[k] = ""
		}
	}
	return changed
}

// Keys returns the sorted keys of a.
func (a Attrs) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a copy of a.
func (a Attrs) Clone() Attrs {
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Contact is the typed schema of a person's attributes.
type Contact struct {
	ID                   string
	Language             Language
	Name                 string
	SchoolLevel          string
	IsAdult              *bool
	AgeVerifiedAt        *time.Time
	GuardianName         string
	GuardianPhone        string
	GuardianConsent      bool
	Email                string
	Segment              Segment
	HasCompletedIntake   bool
	HasPaidLesson        bool
	TrialLessonCompleted bool
	LessonBooked         bool
	CustomerSince        *time.Time
	ReturningBroadcast   bool
	WeekendEligible      bool
}

// ContactFromAttrs decodes a contact. Unknown keys are ignored; malformed
// booleans and timestamps decode as unset.
func ContactFromAttrs(id string, a Attrs) Contact {
	return Contact{
		ID:                   id,
		Language:             Language(a[KeyLanguage]),
		Name:                 a[KeyName],
		SchoolLevel:          a[KeySchoolLevel],
		IsAdult:              parseOptBool(a[KeyIsAdult]),
		AgeVerifiedAt:        parseTime(a[KeyAgeVerifiedAt]),
		GuardianName:         a[KeyGuardianName],
		GuardianPhone:        a[KeyGuardianPhone],
		GuardianConsent:      parseBool(a[KeyGuardianConsent]),
		Email:                a[KeyEmail],
		Segment:              Segment(a[KeySegment]),
		HasCompletedIntake:   parseBool(a[KeyHasCompletedIntake]),
		HasPaidLesson:        parseBool(a[KeyHasPaidLesson]),
		TrialLessonCompleted: parseBool(a[KeyTrialLessonCompleted]),
		LessonBooked:         parseBool(a[KeyLessonBooked]),
		CustomerSince:        parseTime(a[KeyCustomerSince]),
		ReturningBroadcast:   parseBool(a[KeyReturningBroadcast]),
		WeekendEligible:      parseBool(a[KeyWeekendEligible]),
	}
}

// Attrs encodes the contact. Every allow-listed key is present so that Diff
// can detect cleared values.
func (c Contact) Attrs() Attrs {
	return Attrs{
		KeyLanguage:             string(c.Language),
		KeyName:                 c.Name,
		KeySchoolLevel:          c.SchoolLevel,
		KeyIsAdult:              formatOptBool(c.IsAdult),
		KeyAgeVerifiedAt:        formatTime(c.AgeVerifiedAt),
		KeyGuardianName:         c.GuardianName,
		KeyGuardianPhone:        c.GuardianPhone,
		KeyGuardianConsent:      formatBool(c.GuardianConsent),
		KeyEmail:                c.Email,
		KeySegment:              string(c.Segment),
		KeyHasCompletedIntake:   formatBool(c.HasCompletedIntake),
		KeyHasPaidLesson:        formatBool(c.HasPaidLesson),
		KeyTrialLessonCompleted: formatBool(c.TrialLessonCompleted),
		KeyLessonBooked:         formatBool(c.LessonBooked),
		KeyCustomerSince:        formatTime(c.CustomerSince),
		KeyReturningBroadcast:   formatBool(c.ReturningBroadcast),
		KeyWeekendEligible:      formatBool(c.WeekendEligible),
	}
}

// Conversation is the typed schema of one dialogue thread.
type Conversation struct {
	ID                     string
	PendingIntent          PendingIntent
	LanguagePrompted       bool
	IntakeCompleted        bool
	AgeVerified            bool
	PlanningProfile        Segment
	ForWho                 string
	Relationship           string
	LearnerName            string
	LearnerIsAdult         *bool
	LearnerAgeVerifiedAt   *time.Time
	SchoolLevel            string
	Subject                string
	Topic                  string
	Goals                  string
	PreferredTimes         string
	Mode                   string
	Toolset                string
	Prefill                Facts
	PrefillRejections      int
	InvalidAttempts        int
	Correcting             bool
	OpeningText            string
	PlanningOffset         int
	SelectedSlot           string
	WeekendDiscount        bool
	HandoffReason          HandoffReason
	LastProcessedMessageID string
}

// ConversationFromAttrs decodes a conversation. An unknown pending intent
// decodes as none so that a corrupted value restarts the current step.
func ConversationFromAttrs(id string, a Attrs) Conversation {
	intent := PendingIntent(a[KeyPendingIntent])
	if !IsValidPendingIntent(intent) {
		intent = IntentNone
	}
	var prefill Facts
	if raw := a[KeyPrefill]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &prefill)
	}
	return Conversation{
		ID:                     id,
		PendingIntent:          intent,
		LanguagePrompted:       parseBool(a[KeyLanguagePrompted]),
		IntakeCompleted:        parseBool(a[KeyIntakeCompleted]),
		AgeVerified:            parseBool(a[KeyAgeVerified]),
		PlanningProfile:        Segment(a[KeyPlanningProfile]),
		ForWho:                 a[KeyForWho],
		Relationship:           a[KeyRelationship],
		LearnerName:            a[KeyLearnerName],
		LearnerIsAdult:         parseOptBool(a[KeyLearnerIsAdult]),
		LearnerAgeVerifiedAt:   parseTime(a[KeyLearnerAgeVerifiedAt]),
		SchoolLevel:            a[KeyConvSchoolLevel],
		Subject:                a[KeySubject],
		Topic:                  a[KeyTopic],
		Goals:                  a[KeyGoals],
		PreferredTimes:         a[KeyPreferredTimes],
		Mode:                   a[KeyMode],
		Toolset:                a[KeyToolset],
		Prefill:                prefill,
		PrefillRejections:      parseInt(a[KeyPrefillRejections]),
		InvalidAttempts:        parseInt(a[KeyInvalidAttempts]),
		Correcting:             parseBool(a[KeyCorrecting]),
		OpeningText:            a[KeyOpeningText],
		PlanningOffset:         parseInt(a[KeyPlanningOffset]),
		SelectedSlot:           a[KeySelectedSlot],
		WeekendDiscount:        parseBool(a[KeyWeekendDiscount]),
		HandoffReason:          HandoffReason(a[KeyHandoffReason]),
		LastProcessedMessageID: a[KeyLastProcessedMessageID],
	}
}

// Attrs encodes the conversation with every allow-listed key present.
func (c Conversation) Attrs() Attrs {
	prefill := ""
	if !c.Prefill.IsEmpty() {
		if b, err := json.Marshal(c.Prefill); err == nil {
			prefill = string(b)
		}
	}
	return Attrs{
		KeyPendingIntent:          string(c.PendingIntent),
		KeyLanguagePrompted:       formatBool(c.LanguagePrompted),
		KeyIntakeCompleted:        formatBool(c.IntakeCompleted),
		KeyAgeVerified:            formatBool(c.AgeVerified),
		KeyPlanningProfile:        string(c.PlanningProfile),
		KeyForWho:                 c.ForWho,
		KeyRelationship:           c.Relationship,
		KeyLearnerName:            c.LearnerName,
		KeyLearnerIsAdult:         formatOptBool(c.LearnerIsAdult),
		KeyLearnerAgeVerifiedAt:   formatTime(c.LearnerAgeVerifiedAt),
		KeyConvSchoolLevel:        c.SchoolLevel,
		KeySubject:                c.Subject,
		KeyTopic:                  c.Topic,
		KeyGoals:                  c.Goals,
		KeyPreferredTimes:         c.PreferredTimes,
		KeyMode:                   c.Mode,
		KeyToolset:                c.Toolset,
		KeyPrefill:                prefill,
		KeyPrefillRejections:      formatInt(c.PrefillRejections),
		KeyInvalidAttempts:        formatInt(c.InvalidAttempts),
		KeyCorrecting:             formatBool(c.Correcting),
		KeyOpeningText:            c.OpeningText,
		KeyPlanningOffset:         formatInt(c.PlanningOffset),
		KeySelectedSlot:           c.SelectedSlot,
		KeyWeekendDiscount:        formatBool(c.WeekendDiscount),
		KeyHandoffReason:          string(c.HandoffReason),
		KeyLastProcessedMessageID: c.LastProcessedMessageID,
	}
}

// Booleans are stored as "true" or cleared; false and unset are equivalent,
// except for the tri-state adult flags which keep an explicit "false".
func formatBool(b bool) string {
	if b {
		return "true"
	}
	return ""
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func formatOptBool(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func parseOptBool(s string) *bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil
	}
	return &b
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func formatInt(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func parseInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

// Time returns a pointer to t.
func Time(t time.Time) *time.Time {
	return &t
}
