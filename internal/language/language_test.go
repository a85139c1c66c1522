package language

import (
	"testing"

	"github.com/stephenadei/tutorbot/internal/models"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		text string
		want models.Language
	}{
		{"Ik wil bijles wiskunde", models.LanguageDutch},
		{"Hoi! Mijn dochter zit in havo 4", models.LanguageDutch},
		{"Hello, I need help with statistics", models.LanguageEnglish},
		{"Can you tutor my son?", models.LanguageEnglish},
		{"", models.LanguageUnknown},
		{"👍", models.LanguageUnknown},
		{"online school", models.LanguageUnknown},
		{"VWO 5", models.LanguageDutch},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := Detect(tt.text); got != tt.want {
				nl, en := Score(tt.text)
				t.Errorf("Detect(%q) = %q (nl=%d en=%d), want %q", tt.text, got, nl, en, tt.want)
			}
		})
	}
}

func TestDetect_TieIsUnknown(t *testing.T) {
	// "hallo" scores Dutch, "hello" scores English.
	if got := Detect("hallo hello"); got != models.LanguageUnknown {
		t.Errorf("expected unknown on a tie, got %q", got)
	}
}
