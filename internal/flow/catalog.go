package flow

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/stephenadei/tutorbot/internal/models"
)

// choice is one selectable answer of a menu-driven step.
type choice struct {
	Value    string
	Icon     string
	NL       string
	EN       string
	Synonyms []string // normalized words or phrases that select this choice
	Emoji    []string // raw symbols that select this choice
}

func (c choice) name(lang models.Language) string {
	if lang == models.LanguageEnglish {
		return c.EN
	}
	return c.NL
}

func (c choice) option(lang models.Language) models.Option {
	label := c.name(lang)
	if c.Icon != "" {
		label = c.Icon + " " + label
	}
	return models.Option{Label: label, Value: c.Value}
}

// menu is the closed option set of a step. With loose set, a synonym found
// anywhere in the reply selects its choice as long as no other choice is also
// named.
type menu struct {
	choices []choice
	loose   bool
}

func (m menu) options(lang models.Language) []models.Option {
	out := make([]models.Option, 0, len(m.choices))
	for _, c := range m.choices {
		out = append(out, c.option(lang))
	}
	return out
}

func (m menu) find(value string) (choice, bool) {
	for _, c := range m.choices {
		if c.Value == value {
			return c, true
		}
	}
	return choice{}, false
}

// display returns the localized name of value, or value itself.
func (m menu) display(value string, lang models.Language) string {
	if c, ok := m.find(value); ok {
		return c.name(lang)
	}
	return value
}

var numberedReply = regexp.MustCompile(`^(?:optie|option|keuze|choice|nr|nummer|number)?\s*(\d{1,2})$`)

// match maps a reply to a choice value. It never guesses: a reply naming
// more than one choice does not match.
func (m menu) match(input string) (string, bool) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", false
	}
	if c, ok := m.find(raw); ok {
		return c.Value, true
	}

	var byEmoji []string
	for _, c := range m.choices {
		for _, e := range c.Emoji {
			if strings.Contains(raw, e) {
				byEmoji = appendUnique(byEmoji, c.Value)
			}
		}
	}
	if len(byEmoji) == 1 {
		return byEmoji[0], true
	}

	n := normalize(raw)
	if n == "" {
		return "", false
	}
	if sub := numberedReply.FindStringSubmatch(n); sub != nil {
		i, _ := strconv.Atoi(sub[1])
		if i >= 1 && i <= len(m.choices) {
			return m.choices[i-1].Value, true
		}
	}
	for _, c := range m.choices {
		if n == normalize(c.NL) || n == normalize(c.EN) || n == normalize(c.Value) {
			return c.Value, true
		}
		for _, s := range c.Synonyms {
			if n == s {
				return c.Value, true
			}
		}
	}
	if !m.loose {
		return "", false
	}

	padded := " " + n + " "
	var found []string
	for _, c := range m.choices {
		for _, s := range c.Synonyms {
			if strings.Contains(padded, " "+s+" ") {
				found = appendUnique(found, c.Value)
				break
			}
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	return "", false
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// normalize folds case, drops emoji and symbols, turns punctuation into
// spaces and collapses whitespace.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Choice values shared with the models and the labels.
const (
	forWhoSelf  = "self"
	forWhoOther = "other"

	relationshipParent = "parent"

	subjectOther = "other"

	answerYes = "yes"
	answerNo  = "no"

	prefillConfirm = "confirm_all"
	prefillCorrect = "correct_all"
	prefillPartial = "correct_partial"

	menuPlanLesson      = "plan_lesson"
	menuChangeDetails   = "change_details"
	menuSamePreferences = "same_preferences"
	menuHandoff         = "handoff"

	handoffReturnToBot   = "return_to_bot"
	handoffStayWithHuman = "stay_with_human"

	planningMoreOptions = "more_options"
)

var languageMenu = menu{loose: true, choices: []choice{
	{Value: string(models.LanguageDutch), Icon: "🇳🇱", NL: "Nederlands", EN: "Nederlands", Synonyms: []string{"nederlands", "dutch", "ned"}},
	{Value: string(models.LanguageEnglish), Icon: "🇬🇧", NL: "English", EN: "English", Synonyms: []string{"english", "engels", "eng"}},
}}

var forWhoMenu = menu{loose: true, choices: []choice{
	{Value: forWhoSelf, Icon: "👤", NL: "Voor mezelf", EN: "For myself", Synonyms: []string{"mezelf", "mijzelf", "zelf", "myself", "self"}},
	{Value: forWhoOther, Icon: "👥", NL: "Voor iemand anders", EN: "For someone else", Synonyms: []string{"iemand anders", "kind", "zoon", "dochter", "child", "son", "daughter", "someone else", "other", "ander", "anders"}},
}}

var relationshipMenu = menu{loose: true, choices: []choice{
	{Value: relationshipParent, Icon: "👪", NL: "Ouder", EN: "Parent", Synonyms: []string{"ouder", "parent", "moeder", "vader", "mama", "papa", "mother", "father", "mom", "mum", "dad"}},
	{Value: "family", Icon: "🏠", NL: "Familie", EN: "Family", Synonyms: []string{"familie", "family", "broer", "zus", "oom", "tante", "opa", "oma", "brother", "sister", "uncle", "aunt"}},
	{Value: "teacher", Icon: "🍎", NL: "Docent", EN: "Teacher", Synonyms: []string{"docent", "leraar", "lerares", "teacher", "mentor"}},
	{Value: "other", Icon: "➕", NL: "Anders", EN: "Other", Synonyms: []string{"anders", "overig", "other"}},
}}

var yesNoMenu = menu{loose: true, choices: []choice{
	{Value: answerYes, Icon: "✅", NL: "Ja", EN: "Yes", Synonyms: []string{"ja", "yes", "j", "y", "yep", "jazeker", "zeker", "18"}},
	{Value: answerNo, Icon: "❌", NL: "Nee", EN: "No", Synonyms: []string{"nee", "no", "n", "nope", "minderjarig", "minor"}},
}}

var schoolLevelMenu = menu{loose: true, choices: []choice{
	{Value: "po", Icon: "🎒", NL: "Basisschool", EN: "Primary school", Synonyms: []string{"po", "basisschool", "primary", "groep 7", "groep 8"}},
	{Value: "vmbo", Icon: "📘", NL: "VMBO", EN: "VMBO", Synonyms: []string{"vmbo", "mavo", "vmbo t", "vmbo tl", "kader"}},
	{Value: "havo", Icon: "📗", NL: "HAVO", EN: "HAVO", Synonyms: []string{"havo", "3h", "4h", "5h"}},
	{Value: "vwo", Icon: "📕", NL: "VWO", EN: "VWO", Synonyms: []string{"vwo", "gymnasium", "atheneum", "4v", "5v", "6v"}},
	{Value: "mbo", Icon: "🛠", NL: "MBO", EN: "MBO", Synonyms: []string{"mbo", "roc"}},
	{Value: "university_wo", Icon: "🎓", NL: "Universiteit (WO)", EN: "University (WO)", Synonyms: []string{"wo", "universiteit", "uni", "bachelor", "master"}},
	{Value: "university_hbo", Icon: "🏫", NL: "Hogeschool (HBO)", EN: "Applied sciences (HBO)", Synonyms: []string{"hbo", "hogeschool", "applied sciences"}},
	{Value: "adult", Icon: "💼", NL: "Volwassene", EN: "Adult learner", Synonyms: []string{"volwassene", "volwassen", "adult", "werkend", "professional"}},
}}

var subjectMenu = menu{loose: true, choices: []choice{
	{Value: "math", Icon: "📐", NL: "Wiskunde", EN: "Math", Synonyms: []string{"wiskunde", "wiskunde a", "wiskunde b", "rekenen", "math", "maths", "mathematics"}},
	{Value: "stats", Icon: "📊", NL: "Statistiek", EN: "Statistics", Synonyms: []string{"statistiek", "statistics", "stats", "stat", "data analyse"}},
	{Value: "english", Icon: "🇬🇧", NL: "Engels", EN: "English", Synonyms: []string{"engels", "english"}},
	{Value: "programming", Icon: "💻", NL: "Programmeren", EN: "Programming", Synonyms: []string{"programmeren", "programming", "coding", "code", "informatica"}},
	{Value: "science", Icon: "🔬", NL: "Natuurkunde", EN: "Science", Synonyms: []string{"natuurkunde", "physics", "science", "nask"}},
	{Value: "chemistry", Icon: "⚗️", NL: "Scheikunde", EN: "Chemistry", Synonyms: []string{"scheikunde", "chemistry", "chemie"}},
	{Value: subjectOther, Icon: "➕", NL: "Anders", EN: "Other", Synonyms: []string{"anders", "other"}},
}}

var modeMenu = menu{loose: true, choices: []choice{
	{Value: "online", Icon: "💻", NL: "Online", EN: "Online", Synonyms: []string{"online", "op afstand", "remote", "zoom", "video"}},
	{Value: "in_person", Icon: "🏠", NL: "Op locatie", EN: "In person", Synonyms: []string{"op locatie", "fysiek", "locatie", "in person", "face to face", "live"}},
	{Value: "hybrid", Icon: "🔀", NL: "Hybride", EN: "Hybrid", Synonyms: []string{"hybride", "hybrid", "beide", "both", "mix"}},
}}

var toolsetMenu = menu{loose: true, choices: []choice{
	{Value: "none", Icon: "➖", NL: "Geen", EN: "None", Synonyms: []string{"geen", "none", "niks", "nothing", "weet niet"}},
	{Value: "python", Icon: "🐍", NL: "Python", EN: "Python", Synonyms: []string{"python"}},
	{Value: "excel", Icon: "📗", NL: "Excel", EN: "Excel", Synonyms: []string{"excel", "spreadsheet"}},
	{Value: "spss", Icon: "📊", NL: "SPSS", EN: "SPSS", Synonyms: []string{"spss"}},
	{Value: "r", Icon: "📈", NL: "R", EN: "R", Synonyms: []string{"r", "rstudio"}},
	{Value: "other", Icon: "➕", NL: "Anders", EN: "Other", Synonyms: []string{"anders", "other"}},
}}

var prefillMenu = menu{loose: true, choices: []choice{
	{Value: prefillConfirm, Icon: "✅", NL: "Klopt helemaal", EN: "All correct", Emoji: []string{"✅", "👍"},
		Synonyms: []string{"ja", "klopt", "correct", "yes", "juist", "precies", "inderdaad"}},
	{Value: prefillCorrect, Icon: "❌", NL: "Klopt niet", EN: "Not correct", Emoji: []string{"❌", "👎"},
		Synonyms: []string{"nee", "niet", "fout", "no", "verkeerd", "wrong"}},
	{Value: prefillPartial, Icon: "🤔", NL: "Deels", EN: "Partially", Emoji: []string{"🤔"},
		Synonyms: []string{"deels", "sommige", "partially", "gedeeltelijk", "partly"}},
}}

var handoffMenu = menu{loose: true, choices: []choice{
	{Value: handoffReturnToBot, Icon: "🤖", NL: "Terug naar de bot", EN: "Back to the bot", Synonyms: []string{"bot", "terug", "return", "back"}},
	{Value: handoffStayWithHuman, Icon: "🙋", NL: "Blijf bij Stephen", EN: "Stay with Stephen", Synonyms: []string{"blijf", "stay", "wachten", "wait"}},
}}

// mainMenu tailors the post-intake menu to the segment.
func mainMenu(seg models.Segment) menu {
	choices := []choice{
		{Value: menuPlanLesson, Icon: "📅", NL: "Les plannen", EN: "Plan a lesson", Synonyms: []string{"plan", "plannen", "inplannen", "les", "lesson", "book", "afspraak"}},
		{Value: menuChangeDetails, Icon: "✏️", NL: "Gegevens wijzigen", EN: "Change details", Synonyms: []string{"wijzig", "wijzigen", "aanpassen", "change", "gegevens", "details"}},
	}
	if seg == models.SegmentExisting || seg == models.SegmentReturningBroadcast {
		choices = append(choices, choice{Value: menuSamePreferences, Icon: "🔁", NL: "Zelfde voorkeuren", EN: "Same preferences", Synonyms: []string{"zelfde", "hetzelfde", "same", "again", "weer"}})
	}
	choices = append(choices, choice{Value: menuHandoff, Icon: "🙋", NL: "Spreek Stephen", EN: "Talk to Stephen"})
	return menu{loose: true, choices: choices}
}

// changeDetailsMenu lists the slots a user may correct after intake. The
// toolset is offered when the current subject asks for one.
func changeDetailsMenu(subject string) menu {
	choices := []choice{
		{Value: string(models.IntentLearnerName), Icon: "👤", NL: "Naam", EN: "Name", Synonyms: []string{"naam", "name"}},
		{Value: string(models.IntentSchoolLevel), Icon: "🎓", NL: "Niveau", EN: "Level", Synonyms: []string{"niveau", "level", "school", "opleiding"}},
		{Value: string(models.IntentSubject), Icon: "📚", NL: "Vak", EN: "Subject", Synonyms: []string{"vak", "subject", "onderwerp"}},
	}
	if needsToolset(subject) {
		choices = append(choices, choice{Value: string(models.IntentToolset), Icon: "🧰", NL: "Software", EN: "Toolset", Synonyms: []string{"software", "toolset", "tool", "tools", "programma"}})
	}
	choices = append(choices,
		choice{Value: string(models.IntentGoals), Icon: "🎯", NL: "Doelen", EN: "Goals", Synonyms: []string{"doel", "doelen", "goal", "goals"}},
		choice{Value: string(models.IntentPreferredTimes), Icon: "🕒", NL: "Voorkeurstijden", EN: "Preferred times", Synonyms: []string{"tijd", "tijden", "time", "times"}},
		choice{Value: string(models.IntentMode), Icon: "💻", NL: "Lesvorm", EN: "Lesson mode", Synonyms: []string{"lesvorm", "vorm", "mode", "online", "locatie"}},
	)
	return menu{loose: true, choices: choices}
}

// needsToolset reports whether the subject asks for a toolset.
func needsToolset(subject string) bool {
	return subject == "programming" || subject == "stats"
}

// canonical maps free-form extractor output onto the closed option sets.
// Unmappable values are dropped, except a subject, which becomes "other" with
// the raw value kept as topic.
func canonicalFacts(f models.Facts) models.Facts {
	out := f
	out.SchoolLevel = canonical(schoolLevelMenu, f.SchoolLevel)
	out.Subject = canonical(subjectMenu, f.Subject)
	if raw := strings.TrimSpace(f.Subject); raw != "" && out.Subject == "" {
		out.Subject = subjectOther
		if out.Topic == "" {
			out.Topic = raw
		}
	}
	out.Mode = canonical(modeMenu, f.Mode)
	out.Toolset = canonical(toolsetMenu, f.Toolset)
	out.ForWho = canonical(forWhoMenu, f.ForWho)
	out.Relationship = canonical(relationshipMenu, f.Relationship)
	return out
}

func canonical(m menu, v string) string {
	if v == "" {
		return ""
	}
	if value, ok := m.match(v); ok {
		return value
	}
	return ""
}
