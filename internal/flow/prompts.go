package flow

import (
	"fmt"

	"github.com/stephenadei/tutorbot/internal/models"
)

// Prompt keys.
const (
	promptLanguage         = "language"
	promptForWho           = "for_who"
	promptRelationship     = "relationship"
	promptAgeSelf          = "age_self"
	promptAgeOther         = "age_other"
	promptGuardianName     = "guardian_name"
	promptGuardianPhone    = "guardian_phone"
	promptLearnerNameSelf  = "learner_name_self"
	promptLearnerNameOther = "learner_name_other"
	promptSchoolLevelSelf  = "school_level_self"
	promptSchoolLevelOther = "school_level_other"
	promptSubject          = "subject"
	promptGoals            = "goals"
	promptPreferredTimes   = "preferred_times"
	promptMode             = "mode"
	promptToolset          = "toolset"
	promptInvalidChoice    = "invalid_choice"
	promptInvalidName      = "invalid_name"
	promptInvalidText      = "invalid_text"
	promptInvalidPhone     = "invalid_phone"
	promptInvalidEmail     = "invalid_email"
	promptPrefillSummary   = "prefill_summary"
	promptPrefillUpdated   = "prefill_updated"
	promptPrefillCorrect   = "prefill_correct"
	promptPrefillPartial   = "prefill_partial"
	promptPrefillNoChange  = "prefill_no_change"
	promptAgeVerified      = "age_verified"
	promptMinor            = "minor"
	promptIntakeDone       = "intake_done"
	promptMainMenu         = "main_menu"
	promptChangeDetails    = "change_details"
	promptDetailUpdated    = "detail_updated"
	promptPlanning         = "planning"
	promptPlanningMore     = "planning_more"
	promptNoSlots          = "no_slots"
	promptWeekendDiscount  = "weekend_discount"
	promptSlotSelected     = "slot_selected"
	promptEmail            = "email"
	promptBookingDone      = "booking_done"
	promptHandoff          = "handoff"
	promptBackToBot        = "back_to_bot"
	promptStayWithHuman    = "stay_with_human"
)

var prompts = map[string][2]string{
	promptLanguage: {
		"Hoi! 👋 In welke taal wil je verder? / In which language would you like to continue?",
		"Hi! 👋 In welke taal wil je verder? / In which language would you like to continue?",
	},
	promptForWho:           {"Voor wie is de bijles?", "Who are the lessons for?"},
	promptRelationship:     {"Wat is je relatie tot de leerling?", "What is your relationship to the learner?"},
	promptAgeSelf:          {"Ben je 18 jaar of ouder?", "Are you 18 years or older?"},
	promptAgeOther:         {"Is de leerling 18 jaar of ouder?", "Is the learner 18 years or older?"},
	promptGuardianName:     {"Omdat de leerling minderjarig is, heb ik een ouder of voogd nodig. Wat is de naam van de ouder/voogd?", "Because the learner is under 18, I need a parent or guardian. What is the guardian's name?"},
	promptGuardianPhone:    {"Wat is het telefoonnummer van %s?", "What is %s's phone number?"},
	promptLearnerNameSelf:  {"Wat is je naam?", "What is your name?"},
	promptLearnerNameOther: {"Wat is de naam van de leerling?", "What is the learner's name?"},
	promptSchoolLevelSelf:  {"Op welk niveau zit je?", "What level are you at?"},
	promptSchoolLevelOther: {"Op welk niveau zit %s?", "What level is %s at?"},
	promptSubject:          {"Voor welk vak zoek je bijles?", "Which subject do you need help with?"},
	promptGoals:            {"Wat wil je bereiken? (bijv. toets halen, examen, beter begrip)", "What would you like to achieve? (e.g. pass a test, exam, better understanding)"},
	promptPreferredTimes:   {"Wanneer kun je het beste? (bijv. doordeweeks na 16:00)", "When suits you best? (e.g. weekdays after 4pm)"},
	promptMode:             {"Hoe wil je les krijgen?", "How would you like to have lessons?"},
	promptToolset:          {"Met welke software werk je?", "Which software do you work with?"},
	promptInvalidChoice:    {"Sorry, dat begreep ik niet. Kies een van de opties.", "Sorry, I didn't get that. Please pick one of the options."},
	promptInvalidName:      {"Dat lijkt geen naam. Kun je de voornaam typen?", "That doesn't look like a name. Could you type the first name?"},
	promptInvalidText:      {"Kun je iets meer vertellen?", "Could you tell me a bit more?"},
	promptInvalidPhone:     {"Dat lijkt geen telefoonnummer. Probeer het opnieuw, bijv. +31612345678.", "That doesn't look like a phone number. Please try again, e.g. +31612345678."},
	promptInvalidEmail:     {"Dat e-mailadres lijkt niet te kloppen. Probeer het opnieuw.", "That email address doesn't look right. Please try again."},
	promptPrefillSummary:   {"Ik heb dit begrepen:\n%s\n\nKlopt dit?", "This is what I understood:\n%s\n\nIs this correct?"},
	promptPrefillUpdated:   {"Aangepast (%s):\n%s\n\nKlopt het nu?", "Updated (%s):\n%s\n\nIs it correct now?"},
	promptPrefillCorrect:   {"Geen probleem. Vertel in één bericht wat er anders moet.", "No problem. Tell me in one message what should be different."},
	promptPrefillPartial:   {"Wat klopt er niet? Vertel het in één bericht.", "What isn't right? Tell me in one message."},
	promptPrefillNoChange:  {"Ik zie geen wijziging. Wat moet er anders?", "I don't see a change. What should be different?"},
	promptAgeVerified:      {"Dank je! ✅", "Thanks! ✅"},
	promptMinor:            {"Dank je. Voor minderjarigen vraag ik toestemming van een ouder of voogd.", "Thanks. For learners under 18 I ask for a parent's or guardian's consent."},
	promptIntakeDone:       {"Top, ik heb alles wat ik nodig heb! 🎉", "Great, I have everything I need! 🎉"},
	promptMainMenu:         {"Waarmee kan ik je helpen?", "How can I help you?"},
	promptChangeDetails:    {"Wat wil je wijzigen?", "What would you like to change?"},
	promptDetailUpdated:    {"Bijgewerkt ✅", "Updated ✅"},
	promptPlanning:         {"Hier zijn een paar momenten. Kies wat je uitkomt:", "Here are some options. Pick what suits you:"},
	promptPlanningMore:     {"Meer opties", "More options"},
	promptNoSlots:          {"Ik heb op dit moment geen vrije momenten. Stephen neemt contact met je op.", "I have no free slots right now. Stephen will get in touch."},
	promptWeekendDiscount:  {"Je boekt in het weekend, dus je krijgt weekendkorting. 🎁", "You're booking during the weekend, so you get the weekend discount. 🎁"},
	promptSlotSelected:     {"Je hebt gekozen: %s.", "You picked: %s."},
	promptEmail:            {"Naar welk e-mailadres mag de bevestiging?", "Which email address should the confirmation go to?"},
	promptBookingDone:      {"Dank je! Stephen bevestigt de les zo snel mogelijk. 📅", "Thanks! Stephen will confirm the lesson as soon as possible. 📅"},
	promptHandoff:          {"Ik verbind je door met Stephen. Hij reageert zo snel mogelijk. 🙋", "I'm connecting you with Stephen. He'll reply as soon as possible. 🙋"},
	promptBackToBot:        {"Je bent weer terug bij de bot. 🤖", "You're back with the bot. 🤖"},
	promptStayWithHuman:    {"Prima, Stephen neemt het over.", "Alright, Stephen will take it from here."},
}

// summaryLabels are the localized field names of the prefill summary.
var summaryLabels = map[string][2]string{
	models.KeyLearnerName:    {"Naam", "Name"},
	models.KeySchoolLevel:    {"Niveau", "Level"},
	models.KeySubject:        {"Vak", "Subject"},
	models.KeyGoals:          {"Doelen", "Goals"},
	models.KeyPreferredTimes: {"Voorkeurstijden", "Preferred times"},
	models.KeyMode:           {"Lesvorm", "Mode"},
	models.KeyForWho:         {"Voor", "For"},
	models.KeyRelationship:   {"Relatie", "Relationship"},
	models.KeyTopic:          {"Onderwerp", "Topic"},
	models.KeyToolset:        {"Software", "Software"},
	models.KeyIsAdult:        {"18+", "18+"},
}

func localize(pair [2]string, lang models.Language) string {
	if lang == models.LanguageEnglish {
		return pair[1]
	}
	return pair[0]
}

// phrase renders a prompt in lang. Unknown languages fall back to Dutch.
func phrase(lang models.Language, key string, args ...any) string {
	pair, ok := prompts[key]
	if !ok {
		return key
	}
	s := localize(pair, lang)
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	return s
}
