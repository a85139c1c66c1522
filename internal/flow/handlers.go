package flow

import (
	"context"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/stephenadei/tutorbot/internal/language"
	"github.com/stephenadei/tutorbot/internal/models"
)

// onOpening handles a message while nothing is pending: the first message of
// a conversation, or any message after a finished intake or booking.
func (e *Engine) onOpening(ctx context.Context, t *turn) {
	if t.conv.IntakeCompleted {
		e.showMainMenu(t)
		return
	}
	if !t.contact.Language.IsKnown() {
		lang := language.Detect(t.input)
		if !lang.IsKnown() {
			t.conv.OpeningText = clip(t.input, maxFreeTextRunes)
			t.conv.LanguagePrompted = true
			e.ask(t, models.IntentLanguageSelection)
			return
		}
		t.contact.Language = lang
	}
	e.afterLanguage(ctx, t, t.input)
}

func (e *Engine) onLanguage(ctx context.Context, t *turn) {
	t.contact.Language = models.Language(t.choice)
	opening := t.conv.OpeningText
	t.conv.OpeningText = ""
	t.setIntent(models.IntentNone)
	e.afterLanguage(ctx, t, opening)
}

// afterLanguage starts the intake once the language is settled. A contact
// with a completed intake in an earlier conversation goes to the menu.
func (e *Engine) afterLanguage(ctx context.Context, t *turn, opening string) {
	if t.contact.HasCompletedIntake {
		slog.Info("Engine: returning contact, skipping intake", "conversationID", t.ev.ConversationID, "contactID", t.ev.ContactID)
		t.conv.IntakeCompleted = true
		e.showMainMenu(t)
		return
	}
	e.startIntake(ctx, t, opening)
}

func (e *Engine) onHandoffRequest(_ context.Context, t *turn) {
	e.startHandoff(t, models.HandoffExplicit)
}

func (e *Engine) onForWho(_ context.Context, t *turn) {
	if t.conv.ForWho != t.choice {
		// Another learner means another age answer.
		t.conv.AgeVerified = false
		t.conv.LearnerIsAdult = nil
		t.conv.LearnerAgeVerifiedAt = nil
	}
	t.conv.ForWho = t.choice
	if t.choice == forWhoSelf {
		t.conv.Relationship = ""
	}
	e.slotFilled(t)
}

func (e *Engine) onRelationship(_ context.Context, t *turn) {
	t.conv.Relationship = t.choice
	e.slotFilled(t)
}

// onAgeAnswer records the adult flag with the current time. For self it is
// stored on the contact, for someone else on the conversation only.
func (e *Engine) onAgeAnswer(_ context.Context, t *turn) {
	adult := t.choice == answerYes
	now := t.now.UTC()
	if t.isOther() {
		t.conv.LearnerIsAdult = models.Bool(adult)
		t.conv.LearnerAgeVerifiedAt = models.Time(now)
	} else {
		t.contact.IsAdult = models.Bool(adult)
		t.contact.AgeVerifiedAt = models.Time(now)
	}
	t.conv.AgeVerified = true
	if adult {
		t.say(promptAgeVerified)
	} else {
		t.say(promptMinor)
		if t.isOther() && t.conv.Relationship == relationshipParent {
			t.contact.GuardianConsent = true
		}
	}
	e.slotFilled(t)
}

func (e *Engine) onGuardianName(_ context.Context, t *turn) {
	name, ok := e.opts.Names.Validate(t.input)
	if !ok {
		e.reprompt(t, promptInvalidName)
		return
	}
	t.contact.GuardianName = name
	e.advance(t)
}

var phoneNumber = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

// normalizePhone strips separators and checks for 8 to 15 digits.
func normalizePhone(s string) (string, bool) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')', '/':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if !phoneNumber.MatchString(s) {
		return "", false
	}
	return s, true
}

func (e *Engine) onGuardianPhone(_ context.Context, t *turn) {
	phone, ok := normalizePhone(t.input)
	if !ok {
		e.reprompt(t, promptInvalidPhone)
		return
	}
	t.contact.GuardianPhone = phone
	t.contact.GuardianConsent = true
	e.advance(t)
}

func (e *Engine) onLearnerName(_ context.Context, t *turn) {
	name, ok := e.opts.Names.Validate(t.input)
	if !ok {
		e.reprompt(t, promptInvalidName)
		return
	}
	t.conv.LearnerName = name
	e.slotFilled(t)
}

// onSlotChoice stores a menu-driven intake slot.
func (e *Engine) onSlotChoice(_ context.Context, t *turn) {
	switch t.conv.PendingIntent {
	case models.IntentSchoolLevel:
		t.conv.SchoolLevel = t.choice
	case models.IntentSubject:
		if t.conv.Subject != t.choice {
			t.conv.Topic = ""
		}
		t.conv.Subject = t.choice
		if !needsToolset(t.choice) {
			t.conv.Toolset = ""
		}
	case models.IntentMode:
		t.conv.Mode = t.choice
	case models.IntentToolset:
		t.conv.Toolset = t.choice
	}
	e.slotFilled(t)
}

// onFreeText stores goals or preferred times. A reply without any letter or
// digit is rejected.
func (e *Engine) onFreeText(_ context.Context, t *turn) {
	if len([]rune(normalize(t.input))) < 2 {
		e.reprompt(t, promptInvalidText)
		return
	}
	value := clip(t.input, maxFreeTextRunes)
	switch t.conv.PendingIntent {
	case models.IntentGoals:
		t.conv.Goals = value
	case models.IntentPreferredTimes:
		t.conv.PreferredTimes = value
	}
	e.slotFilled(t)
}

// slotFilled continues after an accepted slot: back to the menu when a single
// detail was being corrected, otherwise on to the next unmet slot.
func (e *Engine) slotFilled(t *turn) {
	if t.conv.Correcting && t.conv.IntakeCompleted {
		if t.conv.PendingIntent == models.IntentSubject && needsToolset(t.conv.Subject) && t.conv.Toolset == "" {
			e.ask(t, models.IntentToolset)
			return
		}
		t.conv.Correcting = false
		e.commitIdentity(t)
		t.say(promptDetailUpdated)
		e.showMainMenu(t)
		return
	}
	e.advance(t)
}

// advance asks the next unmet slot, or completes the intake.
func (e *Engine) advance(t *turn) {
	if next := e.nextSlot(t); next != models.IntentNone {
		e.ask(t, next)
		return
	}
	if !t.conv.IntakeCompleted {
		e.completeIntake(t)
		return
	}
	e.startPlanning(t)
}

// nextSlot returns the first unmet slot in the fixed order. Age answers and
// identity facts already on the contact are reused where still valid.
func (e *Engine) nextSlot(t *turn) models.PendingIntent {
	c := &t.conv
	if c.ForWho == "" {
		return models.IntentForWho
	}
	if c.ForWho == forWhoOther && c.Relationship == "" {
		return models.IntentRelationship
	}
	if !c.AgeVerified {
		adult, at := learnerAge(t.contact, *c)
		if !IsAgeValid(adult, at, t.now, e.opts.AgeTTL) {
			return models.IntentAgeCheck
		}
		c.AgeVerified = true
	}
	if needsGuardian(t.contact, *c) {
		if t.contact.GuardianName == "" {
			return models.IntentGuardianName
		}
		if t.contact.GuardianPhone == "" {
			return models.IntentGuardianPhone
		}
	}
	if c.ForWho == forWhoSelf {
		if c.LearnerName == "" {
			c.LearnerName = t.contact.Name
		}
		if c.SchoolLevel == "" {
			c.SchoolLevel = t.contact.SchoolLevel
		}
	}
	switch {
	case c.LearnerName == "":
		return models.IntentLearnerName
	case c.SchoolLevel == "":
		return models.IntentSchoolLevel
	case c.Subject == "":
		return models.IntentSubject
	case c.Goals == "":
		return models.IntentGoals
	case c.PreferredTimes == "":
		return models.IntentPreferredTimes
	case c.Mode == "":
		return models.IntentMode
	case needsToolset(c.Subject) && c.Toolset == "":
		return models.IntentToolset
	}
	return models.IntentNone
}

// commitIdentity copies identity-level facts of a self learner to the contact.
func (e *Engine) commitIdentity(t *turn) {
	if t.conv.ForWho != forWhoSelf {
		return
	}
	if t.conv.LearnerName != "" {
		t.contact.Name = t.conv.LearnerName
	}
	if t.conv.SchoolLevel != "" {
		t.contact.SchoolLevel = t.conv.SchoolLevel
	}
}

func (e *Engine) completeIntake(t *turn) {
	slog.Info("Engine: intake completed", "conversationID", t.ev.ConversationID, "contactID", t.ev.ContactID)
	t.conv.IntakeCompleted = true
	t.conv.Prefill = models.Facts{}
	t.conv.PrefillRejections = 0
	t.conv.Correcting = false
	e.commitIdentity(t)
	t.say(promptIntakeDone)
	e.startPlanning(t)
}

func (e *Engine) showMainMenu(t *turn) {
	t.conv.Correcting = false
	e.ask(t, models.IntentMenu)
}

func (e *Engine) onMenu(_ context.Context, t *turn) {
	switch t.choice {
	case menuPlanLesson, menuSamePreferences:
		e.startPlanning(t)
	case menuChangeDetails:
		e.ask(t, models.IntentChangeDetails)
	case menuHandoff:
		e.startHandoff(t, models.HandoffExplicit)
	}
}

func (e *Engine) onChangeDetails(_ context.Context, t *turn) {
	t.conv.Correcting = true
	e.ask(t, models.PendingIntent(t.choice))
}

// candidates computes the planning slots once per turn.
func (e *Engine) candidates(t *turn) []time.Time {
	if !t.slotsOK {
		seg := Classify(t.contact)
		t.slots = Candidates(ProfileFor(seg), t.now, e.opts.Location, nil)
		t.slotsOK = true
	}
	return t.slots
}

// planningMenu turns the current batch of slots into a menu.
func (e *Engine) planningMenu(t *turn) menu {
	opts := planningOptions(e.candidates(t), t.conv.PlanningOffset, e.opts.Location, t.lang())
	m := menu{loose: true}
	for _, o := range opts {
		c := choice{Value: o.Value, NL: o.Label, EN: o.Label}
		if o.Value == planningMoreOptions {
			c.Synonyms = []string{"meer", "more", "meer opties", "more options", "andere", "other"}
		}
		m.choices = append(m.choices, c)
	}
	return m
}

// startPlanning offers the first batch of slots. The age gate is checked
// again because a verification may have expired since the intake.
func (e *Engine) startPlanning(t *turn) {
	adult, at := learnerAge(t.contact, t.conv)
	if !IsAgeValid(adult, at, t.now, e.opts.AgeTTL) {
		t.conv.AgeVerified = false
		e.ask(t, models.IntentAgeCheck)
		return
	}
	if len(e.candidates(t)) == 0 {
		t.say(promptNoSlots)
		t.setIntent(models.IntentNone)
		return
	}
	t.conv.PlanningOffset = 0
	e.ask(t, models.IntentPlanningConfirmation)
}

func (e *Engine) onPlanningChoice(_ context.Context, t *turn) {
	slots := e.candidates(t)
	if t.choice == planningMoreOptions {
		t.conv.PlanningOffset += PlanningBatchSize
		if t.conv.PlanningOffset >= len(slots) {
			t.conv.PlanningOffset = 0
		}
		e.ask(t, models.IntentPlanningConfirmation)
		return
	}
	slot, err := time.Parse(time.RFC3339, t.choice)
	if err != nil {
		e.reprompt(t, promptInvalidChoice)
		return
	}

	seg := Classify(t.contact)
	t.conv.SelectedSlot = t.choice
	t.conv.PlanningOffset = 0
	t.conv.WeekendDiscount = IsWeekendNow(t.now, e.opts.Location)
	t.lesson = &models.LessonRequest{
		ConversationID: t.ev.ConversationID,
		ContactID:      t.ev.ContactID,
		Segment:        seg,
		Slot:           t.choice,
		Subject:        t.conv.Subject,
		SchoolLevel:    t.conv.SchoolLevel,
		WeekendRate:    t.conv.WeekendDiscount,
		At:             t.now,
	}
	t.say(promptSlotSelected, formatSlot(slot, e.opts.Location, t.lang()))
	if t.conv.WeekendDiscount {
		t.say(promptWeekendDiscount)
	}
	if t.contact.Email == "" {
		e.ask(t, models.IntentEmailCapture)
		return
	}
	e.completeBooking(t)
}

// normalizeEmail accepts a bare address with a dotted domain.
func normalizeEmail(s string) (string, bool) {
	addr, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	at := strings.LastIndex(addr.Address, "@")
	if at < 1 || !strings.Contains(addr.Address[at+1:], ".") {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}

func (e *Engine) onEmail(_ context.Context, t *turn) {
	email, ok := normalizeEmail(t.input)
	if !ok {
		e.reprompt(t, promptInvalidEmail)
		return
	}
	t.contact.Email = email
	e.completeBooking(t)
}

func (e *Engine) completeBooking(t *turn) {
	t.contact.HasCompletedIntake = true
	t.contact.LessonBooked = true
	if t.contact.CustomerSince == nil {
		t.contact.CustomerSince = models.Time(t.now.UTC())
	}
	t.setIntent(models.IntentNone)
	t.say(promptBookingDone)
}

// startHandoff defers the conversation to a person. Pending replies of the
// turn are replaced by the handoff message.
func (e *Engine) startHandoff(t *turn, reason models.HandoffReason) {
	slog.Info("Engine: handing off to human", "conversationID", t.ev.ConversationID, "reason", reason)
	t.replies = nil
	t.conv.HandoffReason = reason
	t.conv.InvalidAttempts = 0
	t.conv.Correcting = false
	t.handoff = &models.HandoffRequest{
		ConversationID: t.ev.ConversationID,
		ContactID:      t.ev.ContactID,
		Reason:         reason,
		At:             t.now,
	}
	e.ask(t, models.IntentHandoff)
}

// onHandoffChoice acts on the handoff menu. Returning to the bot resumes
// where the intake stopped, or shows the menu after it.
func (e *Engine) onHandoffChoice(_ context.Context, t *turn) {
	if t.choice == handoffStayWithHuman {
		t.say(promptStayWithHuman)
		return
	}
	t.returnToBot = true
	t.conv.HandoffReason = ""
	t.conv.Prefill = models.Facts{}
	t.conv.PrefillRejections = 0
	t.say(promptBackToBot)
	t.setIntent(models.IntentNone)
	if t.conv.IntakeCompleted {
		e.showMainMenu(t)
		return
	}
	e.advance(t)
}

// stayQuiet leaves the conversation to the human agent.
func (e *Engine) stayQuiet(_ context.Context, t *turn) {
	slog.Debug("Engine: conversation with human, no reply", "conversationID", t.ev.ConversationID)
}

// onInvalid re-issues the pending prompt for a reply that does not fit it.
func (e *Engine) onInvalid(_ context.Context, t *turn) {
	if _, isMenu := e.stepMenu(t, t.conv.PendingIntent); isMenu {
		e.reprompt(t, promptInvalidChoice)
		return
	}
	e.reprompt(t, promptInvalidText)
}

// reprompt repeats the pending question after an error line. The state does
// not advance.
func (e *Engine) reprompt(t *turn, errKey string) {
	t.invalid = true
	r := e.question(t, t.conv.PendingIntent)
	r.Text = phrase(t.lang(), errKey) + "\n\n" + r.Text
	t.reply(r)
}

// ask sets the pending intent and sends its question.
func (e *Engine) ask(t *turn, intent models.PendingIntent) {
	t.setIntent(intent)
	t.reply(e.question(t, intent))
}

// question renders the prompt of a step in the turn's language.
func (e *Engine) question(t *turn, intent models.PendingIntent) models.Reply {
	lang := t.lang()
	var txt string
	switch intent {
	case models.IntentAgeCheck:
		txt = phrase(lang, promptAgeSelf)
		if t.isOther() {
			txt = phrase(lang, promptAgeOther)
		}
	case models.IntentGuardianPhone:
		txt = phrase(lang, promptGuardianPhone, t.contact.GuardianName)
	case models.IntentLearnerName:
		txt = phrase(lang, promptLearnerNameSelf)
		if t.isOther() {
			txt = phrase(lang, promptLearnerNameOther)
		}
	case models.IntentSchoolLevel:
		txt = phrase(lang, promptSchoolLevelSelf)
		if t.isOther() && t.conv.LearnerName != "" {
			txt = phrase(lang, promptSchoolLevelOther, t.conv.LearnerName)
		}
	case models.IntentPrefillConfirmation:
		txt = phrase(lang, promptPrefillSummary, summary(t.conv.Prefill, lang))
	case models.IntentMenu:
		txt = phrase(lang, promptMainMenu)
	case models.IntentPlanningConfirmation:
		txt = phrase(lang, promptPlanning)
	default:
		txt = phrase(lang, steps[intent].prompt)
	}
	r := models.Reply{Text: txt}
	if m, ok := e.stepMenu(t, intent); ok {
		r.Options = m.options(lang)
	}
	return r
}
