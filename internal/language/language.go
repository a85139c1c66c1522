// Package language guesses whether a message is Dutch or English.
package language

import (
	"strings"
	"unicode"

	"github.com/stephenadei/tutorbot/internal/models"
)

// Words shared by both languages ("is", "school", "online", ...) are left out
// so they cannot break a tie.
var dutchWords = toSet(
	"ik", "je", "jij", "hij", "zij", "wij", "ons", "mijn", "jouw", "zijn", "haar", "hun",
	"ben", "bent", "hebben", "heeft", "hebt", "heb",
	"van", "op", "aan", "bij", "met", "voor", "door", "naar", "uit", "onder",
	"het", "de", "een", "en", "of", "als", "dat", "wat", "wie", "waar", "wanneer", "hoe", "maar", "want", "omdat",
	"goed", "slecht", "groot", "klein", "veel", "weinig", "meer", "minder",
	"hallo", "hoi", "dag", "goedemorgen", "goedemiddag", "goedenavond", "doei",
	"dank", "bedankt", "dankjewel", "alsjeblieft", "alstublieft", "graag", "excuus",
	"wiskunde", "bijles", "hulp", "leren", "studeren", "universiteit", "les", "lessen",
	"kan", "wil", "moet", "zou", "mag", "zal", "hoeft",
	"jaar", "uur", "week", "maand", "tijd", "thuis", "fysiek", "locatie", "adres",
	"leerling", "docent", "leraar", "vraag", "antwoord", "examen", "toets", "tentamen", "cijfer",
	"natuurkunde", "scheikunde", "biologie", "engels", "nederlands", "statistiek", "programmeren",
	"vwo", "havo", "vmbo", "mbo", "hbo", "mezelf", "zoon", "dochter",
)

var englishWords = toSet(
	"i", "you", "he", "she", "we", "they", "my", "your", "his", "her", "our", "their",
	"am", "are", "was", "were", "have", "has", "had", "do", "does", "did",
	"the", "a", "an", "and", "or", "if", "that", "what", "who", "where", "when", "how", "but", "because",
	"good", "bad", "big", "small", "much", "little", "more", "less",
	"hello", "hi", "morning", "afternoon", "evening",
	"thank", "thanks", "please", "excuse",
	"math", "maths", "tutoring", "tutor", "help", "learn", "study", "university", "lesson", "lessons",
	"can", "will", "must", "would", "may", "shall", "should", "want", "need",
	"year", "hour", "day", "month", "time", "home", "physical", "address",
	"pupil", "teacher", "instructor", "question", "answer", "exam", "test", "grade",
	"physics", "chemistry", "biology", "english", "dutch", "statistics", "programming",
	"myself", "son", "daughter",
)

func toSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// Detect returns the language with strictly more keyword hits, or
// models.LanguageUnknown on a tie or when nothing matches.
func Detect(text string) models.Language {
	nl, en := Score(text)
	switch {
	case nl > en:
		return models.LanguageDutch
	case en > nl:
		return models.LanguageEnglish
	default:
		return models.LanguageUnknown
	}
}

// Score counts Dutch and English keyword hits in text.
func Score(text string) (nl, en int) {
	for _, tok := range tokens(text) {
		if dutchWords[tok] {
			nl++
		}
		if englishWords[tok] {
			en++
		}
	}
	return nl, en
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
