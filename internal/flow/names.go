package flow

import (
	"strings"
	"unicode"
)

// Name validation defaults.
const (
	DefaultNameMinLetters    = 2
	DefaultNameMaxEmojiRatio = 0.5
	DefaultNameMaxDigitRatio = 0.3
	DefaultNameMaxPunctRatio = 0.5
	DefaultNameMaxRunes      = 60
)

// defaultNameDenylist holds generic words and contact-app artifacts that are
// never a person's name.
var defaultNameDenylist = []string{
	"test", "user", "contact", "whatsapp", "unknown", "onbekend", "naam", "name",
	"hallo", "hello", "hi", "hoi", "hey", "ja", "nee", "yes", "no", "ok", "oke", "okay",
	"bijles", "student", "leerling", "ik", "me", "mij", "mama", "papa", "mam", "pap",
	"kind", "zoon", "dochter", "child", "son", "daughter", "niemand", "nobody",
	"anoniem", "anonymous", "iemand", "someone",
}

// NameValidator decides whether free text is a plausible human name.
// Ratios are measured over the non-space runes of the input.
type NameValidator struct {
	MinLetters    int
	MaxEmojiRatio float64
	MaxDigitRatio float64
	MaxPunctRatio float64
	MaxRunes      int
	Denylist      map[string]bool
}

// DefaultNameValidator returns the validator with the default thresholds.
func DefaultNameValidator() NameValidator {
	deny := make(map[string]bool, len(defaultNameDenylist))
	for _, w := range defaultNameDenylist {
		deny[w] = true
	}
	return NameValidator{
		MinLetters:    DefaultNameMinLetters,
		MaxEmojiRatio: DefaultNameMaxEmojiRatio,
		MaxDigitRatio: DefaultNameMaxDigitRatio,
		MaxPunctRatio: DefaultNameMaxPunctRatio,
		MaxRunes:      DefaultNameMaxRunes,
		Denylist:      deny,
	}
}

// Validate returns the cleaned name and whether it is acceptable.
func (v NameValidator) Validate(input string) (string, bool) {
	name := strings.Join(strings.Fields(input), " ")
	name = strings.Trim(name, "~.,;:!?\"'")
	if name == "" {
		return "", false
	}
	if v.MaxRunes > 0 && len([]rune(name)) > v.MaxRunes {
		return "", false
	}

	var total, letters, digits, emoji, punct int
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			continue
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		case isEmojiRune(r):
			emoji++
		case unicode.IsPunct(r):
			punct++
		}
		total++
	}
	if letters < v.MinLetters {
		return "", false
	}
	ratio := func(n int) float64 { return float64(n) / float64(total) }
	if ratio(emoji) > v.MaxEmojiRatio || ratio(digits) > v.MaxDigitRatio || ratio(punct) > v.MaxPunctRatio {
		return "", false
	}
	if v.Denylist[normalize(name)] {
		return "", false
	}
	return name, true
}

// isEmojiRune reports symbol runes plus the joiners and selectors emoji are built from.
func isEmojiRune(r rune) bool {
	if unicode.Is(unicode.So, r) || unicode.Is(unicode.Sk, r) {
		return true
	}
	switch {
	case r == 0x200D, r >= 0xFE00 && r <= 0xFE0F, r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	}
	return false
}
