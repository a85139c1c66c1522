package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/stephenadei/tutorbot/internal/models"
)

// startIntake runs the opening text through the extractor. Sufficient facts
// are shown for confirmation; anything less is kept as hints and the slot
// sequence starts, skipping what was hinted.
func (e *Engine) startIntake(ctx context.Context, t *turn, opening string) {
	facts := e.extract(ctx, opening)
	slog.Debug("Engine.startIntake: extracted facts", "conversationID", t.ev.ConversationID,
		"sufficient", facts.Sufficient(), "empty", facts.IsEmpty())

	if facts.Sufficient() {
		t.conv.Prefill = facts
		t.conv.PrefillRejections = 0
		e.ask(t, models.IntentPrefillConfirmation)
		return
	}

	applyFacts(&t.conv, facts)
	// A named subject without a level is followed up directly.
	if t.conv.Subject != "" && t.conv.SchoolLevel == "" {
		e.ask(t, models.IntentSchoolLevel)
		return
	}
	e.advance(t)
}

// applyFacts copies candidate values onto the conversation slots. The adult
// flag is never applied; only an explicit age answer opens the gate.
func applyFacts(c *models.Conversation, f models.Facts) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	if f.ForWho != "" && f.ForWho != c.ForWho {
		c.AgeVerified = false
		c.ForWho = f.ForWho
	}
	set(&c.Relationship, f.Relationship)
	set(&c.LearnerName, f.LearnerName)
	set(&c.SchoolLevel, f.SchoolLevel)
	set(&c.Subject, f.Subject)
	set(&c.Topic, f.Topic)
	set(&c.Goals, f.Goals)
	set(&c.PreferredTimes, f.PreferredTimes)
	set(&c.Mode, f.Mode)
	set(&c.Toolset, f.Toolset)
	if !needsToolset(c.Subject) {
		c.Toolset = ""
	}
}

func (e *Engine) onPrefillAnswer(_ context.Context, t *turn) {
	switch t.choice {
	case prefillConfirm:
		e.confirmPrefill(t)
	case prefillCorrect:
		e.rejectPrefill(t, promptPrefillCorrect)
	case prefillPartial:
		e.rejectPrefill(t, promptPrefillPartial)
	}
}

// confirmPrefill commits every confirmed value as if it had been collected
// slot by slot.
func (e *Engine) confirmPrefill(t *turn) {
	applyFacts(&t.conv, t.conv.Prefill)
	t.conv.Prefill = models.Facts{}
	t.conv.PrefillRejections = 0
	t.setIntent(models.IntentNone)
	e.advance(t)
}

// rejectPrefill counts a failed round and asks for the correction, or hands
// off once the budget is spent.
func (e *Engine) rejectPrefill(t *turn, promptKey string) {
	t.conv.PrefillRejections++
	if t.conv.PrefillRejections >= e.opts.CorrectionBudget {
		e.startHandoff(t, models.HandoffCorrectionBudget)
		return
	}
	t.setIntent(models.IntentPrefillCorrection)
	t.say(promptKey)
}

// onPrefillCorrection re-runs the extractor on a correction. New values show
// the updated summary; otherwise the reply is read as a menu answer, and a
// reply that changes nothing counts as a failed round.
func (e *Engine) onPrefillCorrection(ctx context.Context, t *turn) {
	facts := e.extract(ctx, t.input)
	merged := t.conv.Prefill.Merge(facts)
	if changed := t.conv.Prefill.ChangedFields(merged); len(changed) > 0 {
		t.conv.Prefill = merged
		t.setIntent(models.IntentPrefillConfirmation)
		r := e.question(t, models.IntentPrefillConfirmation)
		r.Text = phrase(t.lang(), promptPrefillUpdated, changedLabels(changed, t.lang()), summary(merged, t.lang()))
		t.reply(r)
		return
	}

	if v, ok := prefillMenu.match(t.input); ok {
		if v == prefillConfirm {
			e.confirmPrefill(t)
			return
		}
		e.rejectPrefill(t, promptPrefillCorrect)
		return
	}

	t.conv.PrefillRejections++
	if t.conv.PrefillRejections >= e.opts.CorrectionBudget {
		e.startHandoff(t, models.HandoffCorrectionBudget)
		return
	}
	t.setIntent(models.IntentPrefillCorrection)
	t.say(promptPrefillNoChange)
}

// summaryOrder is the display order of the prefill summary.
var summaryOrder = []string{
	models.KeyLearnerName, models.KeySchoolLevel, models.KeySubject, models.KeyGoals,
	models.KeyPreferredTimes, models.KeyMode, models.KeyToolset, models.KeyForWho, models.KeyRelationship,
}

// summary renders the candidate values as one line per field with localized
// names and display values.
func summary(f models.Facts, lang models.Language) string {
	values := map[string]string{
		models.KeyLearnerName:    f.LearnerName,
		models.KeySchoolLevel:    schoolLevelMenu.display(f.SchoolLevel, lang),
		models.KeySubject:        subjectMenu.display(f.Subject, lang),
		models.KeyGoals:          f.Goals,
		models.KeyPreferredTimes: f.PreferredTimes,
		models.KeyMode:           modeMenu.display(f.Mode, lang),
		models.KeyToolset:        toolsetMenu.display(f.Toolset, lang),
		models.KeyForWho:         forWhoMenu.display(f.ForWho, lang),
		models.KeyRelationship:   relationshipMenu.display(f.Relationship, lang),
	}
	if f.Topic != "" {
		values[models.KeySubject] = f.Topic
	}
	var lines []string
	for _, k := range summaryOrder {
		v := values[k]
		if v == "" {
			continue
		}
		lines = append(lines, "• "+localize(summaryLabels[k], lang)+": "+v)
	}
	return strings.Join(lines, "\n")
}

func changedLabels(keys []string, lang models.Language) string {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if pair, ok := summaryLabels[k]; ok {
			names = append(names, strings.ToLower(localize(pair, lang)))
		}
	}
	return strings.Join(names, ", ")
}
