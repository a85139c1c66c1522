package flow

import (
	"context"
	"strings"

	"github.com/stephenadei/tutorbot/internal/models"
)

// InputClass is the coarse shape of a reply relative to the pending step.
type InputClass string

const (
	// ClassHandoffRequest is an explicit request to talk to a person.
	ClassHandoffRequest InputClass = "handoff_request"
	// ClassChoice is a reply that maps to exactly one option of the step's menu.
	ClassChoice InputClass = "choice"
	// ClassUnmatched is a reply to a menu step that maps to no option or to several.
	ClassUnmatched InputClass = "unmatched"
	// ClassText is free text for a free-text step.
	ClassText InputClass = "text"
	// ClassEmpty is a reply without content.
	ClassEmpty InputClass = "empty"
	// ClassAny matches every class in the transition table.
	ClassAny InputClass = "*"
)

// intentAny matches every pending intent in the transition table.
const intentAny models.PendingIntent = "*"

type transitionKey struct {
	intent models.PendingIntent
	class  InputClass
}

// handler applies one transition to the turn.
type handler func(e *Engine, ctx context.Context, t *turn)

// transitions is the complete dialogue table. Lookup tries the exact key,
// then any intent with the class, then the intent with any class. Everything
// else re-issues the pending prompt.
var transitions = map[transitionKey]handler{
	{models.IntentNone, ClassAny}:          (*Engine).onOpening,
	{intentAny, ClassHandoffRequest}:       (*Engine).onHandoffRequest,
	{intentAny, ClassEmpty}:                (*Engine).onInvalid,
	{intentAny, ClassUnmatched}:            (*Engine).onInvalid,
	{models.IntentHandoff, ClassChoice}:    (*Engine).onHandoffChoice,
	{models.IntentHandoff, ClassUnmatched}: (*Engine).stayQuiet,

	{models.IntentLanguageSelection, ClassChoice}: (*Engine).onLanguage,
	{models.IntentForWho, ClassChoice}:            (*Engine).onForWho,
	{models.IntentRelationship, ClassChoice}:      (*Engine).onRelationship,
	{models.IntentAgeCheck, ClassChoice}:          (*Engine).onAgeAnswer,
	{models.IntentGuardianName, ClassText}:        (*Engine).onGuardianName,
	{models.IntentGuardianPhone, ClassText}:       (*Engine).onGuardianPhone,
	{models.IntentLearnerName, ClassText}:         (*Engine).onLearnerName,
	{models.IntentSchoolLevel, ClassChoice}:       (*Engine).onSlotChoice,
	{models.IntentSubject, ClassChoice}:           (*Engine).onSlotChoice,
	{models.IntentGoals, ClassText}:               (*Engine).onFreeText,
	{models.IntentPreferredTimes, ClassText}:      (*Engine).onFreeText,
	{models.IntentMode, ClassChoice}:              (*Engine).onSlotChoice,
	{models.IntentToolset, ClassChoice}:           (*Engine).onSlotChoice,

	{models.IntentPrefillConfirmation, ClassChoice}:    (*Engine).onPrefillAnswer,
	{models.IntentPrefillConfirmation, ClassUnmatched}: (*Engine).onPrefillCorrection,
	{models.IntentPrefillCorrection, ClassText}:        (*Engine).onPrefillCorrection,

	{models.IntentMenu, ClassChoice}:                 (*Engine).onMenu,
	{models.IntentChangeDetails, ClassChoice}:        (*Engine).onChangeDetails,
	{models.IntentPlanningConfirmation, ClassChoice}: (*Engine).onPlanningChoice,
	{models.IntentEmailCapture, ClassText}:           (*Engine).onEmail,
}

// lookup resolves the handler for a pending intent and input class.
func lookup(intent models.PendingIntent, class InputClass) handler {
	for _, k := range []transitionKey{{intent, class}, {intentAny, class}, {intent, ClassAny}} {
		if h, ok := transitions[k]; ok {
			return h
		}
	}
	return (*Engine).onInvalid
}

// stepDef describes how a step asks its question.
type stepDef struct {
	menu   *menu
	prompt string
}

var steps = map[models.PendingIntent]stepDef{
	models.IntentLanguageSelection:   {menu: &languageMenu, prompt: promptLanguage},
	models.IntentForWho:              {menu: &forWhoMenu, prompt: promptForWho},
	models.IntentRelationship:        {menu: &relationshipMenu, prompt: promptRelationship},
	models.IntentAgeCheck:            {menu: &yesNoMenu, prompt: promptAgeSelf},
	models.IntentGuardianName:        {prompt: promptGuardianName},
	models.IntentGuardianPhone:       {prompt: promptGuardianPhone},
	models.IntentLearnerName:         {prompt: promptLearnerNameSelf},
	models.IntentSchoolLevel:         {menu: &schoolLevelMenu, prompt: promptSchoolLevelSelf},
	models.IntentSubject:             {menu: &subjectMenu, prompt: promptSubject},
	models.IntentGoals:               {prompt: promptGoals},
	models.IntentPreferredTimes:      {prompt: promptPreferredTimes},
	models.IntentMode:                {menu: &modeMenu, prompt: promptMode},
	models.IntentToolset:             {menu: &toolsetMenu, prompt: promptToolset},
	models.IntentPrefillConfirmation: {menu: &prefillMenu, prompt: promptPrefillSummary},
	models.IntentPrefillCorrection:   {prompt: promptPrefillCorrect},
	models.IntentChangeDetails:       {prompt: promptChangeDetails},
	models.IntentEmailCapture:        {prompt: promptEmail},
	models.IntentHandoff:             {menu: &handoffMenu, prompt: promptHandoff},
}

// stepMenu returns the option set the pending intent accepts, if any.
func (e *Engine) stepMenu(t *turn, intent models.PendingIntent) (menu, bool) {
	switch intent {
	case models.IntentMenu:
		return mainMenu(Classify(t.contact)), true
	case models.IntentPlanningConfirmation:
		return e.planningMenu(t), true
	case models.IntentChangeDetails:
		return changeDetailsMenu(t.conv.Subject), true
	}
	s, ok := steps[intent]
	if !ok || s.menu == nil {
		return menu{}, false
	}
	return *s.menu, true
}

// handoffKeywords are words that ask for a person at any step.
var handoffKeywords = map[string]bool{
	"stephen":    true,
	"human":      true,
	"medewerker": true,
	"handoff":    true,
}

// classify determines the input class of the turn and records the matched
// option value.
func (e *Engine) classify(t *turn) InputClass {
	intent := t.conv.PendingIntent
	if intent != models.IntentHandoff && wantsHuman(intent, t.input) {
		return ClassHandoffRequest
	}
	empty := strings.TrimSpace(t.input) == ""
	if m, ok := e.stepMenu(t, intent); ok {
		if v, ok := m.match(t.input); ok {
			t.choice = v
			return ClassChoice
		}
		if empty && intent != models.IntentHandoff {
			return ClassEmpty
		}
		return ClassUnmatched
	}
	if empty && intent != models.IntentNone {
		return ClassEmpty
	}
	return ClassText
}

// freeTextSteps take a typed answer, so a keyword inside a longer reply is
// content rather than a request for a person.
var freeTextSteps = map[models.PendingIntent]bool{
	models.IntentLearnerName:       true,
	models.IntentGuardianName:      true,
	models.IntentGuardianPhone:     true,
	models.IntentGoals:             true,
	models.IntentPreferredTimes:    true,
	models.IntentPrefillCorrection: true,
	models.IntentEmailCapture:      true,
}

// handoffFiller may surround a keyword in a short request such as
// "ik wil graag met stephen spreken" or "talk to a human please".
var handoffFiller = map[string]bool{
	"ik": true, "wil": true, "graag": true, "met": true, "een": true, "de": true,
	"spreken": true, "spreek": true, "praten": true, "kan": true, "mag": true, "naar": true,
	"i": true, "want": true, "to": true, "talk": true, "speak": true, "a": true,
	"with": true, "please": true, "can": true, "the": true,
}

// wantsHuman reports an explicit handoff keyword. Menu steps accept the
// keyword anywhere in the reply. Free-text steps only when the whole reply is
// a short request made of keywords and filler, and a single word at a name
// step is taken as a name.
func wantsHuman(intent models.PendingIntent, input string) bool {
	words := strings.Fields(normalize(input))
	if len(words) == 1 && (intent == models.IntentLearnerName || intent == models.IntentGuardianName) {
		return false
	}
	if freeTextSteps[intent] {
		return isHandoffPhrase(words)
	}
	for _, w := range words {
		if handoffKeywords[w] {
			return true
		}
	}
	return false
}

func isHandoffPhrase(words []string) bool {
	found := false
	for _, w := range words {
		switch {
		case handoffKeywords[w]:
			found = true
		case !handoffFiller[w]:
			return false
		}
	}
	return found
}
