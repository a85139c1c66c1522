package flow

import (
	"testing"

	"github.com/stephenadei/tutorbot/internal/models"
)

func TestMenuMatch(t *testing.T) {
	tests := []struct {
		name   string
		menu   menu
		input  string
		want   string
		wantOK bool
	}{
		{"exact value", subjectMenu, "math", "math", true},
		{"label any case", subjectMenu, "WISKUNDE", "math", true},
		{"numbered", subjectMenu, "2", "stats", true},
		{"numbered with dot", subjectMenu, "2.", "stats", true},
		{"numbered with word", subjectMenu, "optie 3", "english", true},
		{"number out of range", yesNoMenu, "7", "", false},
		{"synonym", schoolLevelMenu, "gymnasium", "vwo", true},
		{"synonym inside sentence", schoolLevelMenu, "ik zit in 5 havo", "havo", true},
		{"two choices named", subjectMenu, "wiskunde en engels", "", false},
		{"emoji stripped", modeMenu, "💻 online", "online", true},
		{"emoji answer", prefillMenu, "👍", prefillConfirm, true},
		{"conflicting emoji", prefillMenu, "👍👎", "", false},
		{"label of partial", prefillMenu, "Deels", prefillPartial, true},
		{"unrelated text", forWhoMenu, "wat kost het?", "", false},
		{"empty", forWhoMenu, "   ", "", false},
		{"eighteen plus", yesNoMenu, "18+", answerYes, true},
		{"language by word", languageMenu, "dutch please", string(models.LanguageDutch), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.menu.match(tt.input)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("match(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"  Hallo,   Wereld! ": "hallo wereld",
		"🇳🇱 Nederlands":       "nederlands",
		"Optie-2":             "optie 2",
		"":                    "",
	}
	for in, want := range tests {
		if got := normalize(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMainMenuPerSegment(t *testing.T) {
	tests := []struct {
		seg  models.Segment
		same bool
	}{
		{models.SegmentNew, false},
		{models.SegmentExisting, true},
		{models.SegmentReturningBroadcast, true},
		{models.SegmentWeekend, false},
	}
	for _, tt := range tests {
		_, ok := mainMenu(tt.seg).find(menuSamePreferences)
		if ok != tt.same {
			t.Errorf("segment %s: same preferences offered = %v, want %v", tt.seg, ok, tt.same)
		}
	}
}

func TestCanonicalFacts(t *testing.T) {
	f := canonicalFacts(models.Facts{
		SchoolLevel:  "5 VWO",
		Subject:      "Statistiek",
		Mode:         "via zoom",
		Toolset:      "SPSS",
		ForWho:       "my daughter",
		Relationship: "mother",
	})
	want := models.Facts{SchoolLevel: "vwo", Subject: "stats", Mode: "online", Toolset: "spss", ForWho: "other", Relationship: "parent"}
	if f != want {
		t.Errorf("canonicalFacts = %+v, want %+v", f, want)
	}

	subjects := []struct {
		name        string
		in          models.Facts
		wantSubject string
		wantTopic   string
	}{
		{"catalog subject", models.Facts{Subject: "wiskunde"}, "math", ""},
		{"unknown subject kept as topic", models.Facts{Subject: "biologie"}, subjectOther, "biologie"},
		{"unknown subject keeps extracted topic", models.Facts{Subject: "kunstgeschiedenis", Topic: "barok"}, subjectOther, "barok"},
		{"blank subject", models.Facts{Subject: "  "}, "", ""},
	}
	for _, tt := range subjects {
		t.Run(tt.name, func(t *testing.T) {
			got := canonicalFacts(tt.in)
			if got.Subject != tt.wantSubject || got.Topic != tt.wantTopic {
				t.Errorf("subject/topic = %q/%q, want %q/%q", got.Subject, got.Topic, tt.wantSubject, tt.wantTopic)
			}
		})
	}

	if got := canonicalFacts(models.Facts{Mode: "per postduif"}).Mode; got != "" {
		t.Errorf("unmappable mode should be dropped, got %q", got)
	}
	if !canonicalFacts(models.Facts{Subject: "biologie", SchoolLevel: "havo"}).Sufficient() {
		t.Error("an unknown subject with a level should be sufficient")
	}
}

func TestChangeDetailsMenuToolset(t *testing.T) {
	tests := []struct {
		subject string
		want    bool
	}{
		{"programming", true},
		{"stats", true},
		{"math", false},
		{"", false},
	}
	for _, tt := range tests {
		_, ok := changeDetailsMenu(tt.subject).find(string(models.IntentToolset))
		if ok != tt.want {
			t.Errorf("subject %q: toolset offered = %v, want %v", tt.subject, ok, tt.want)
		}
	}
}

func TestWantsHuman(t *testing.T) {
	tests := []struct {
		name   string
		intent models.PendingIntent
		input  string
		want   bool
	}{
		{"keyword inside menu reply", models.IntentForWho, "Kan ik een medewerker spreken?", true},
		{"keyword inside first message", models.IntentNone, "Ik wil Stephen spreken over bijles", true},
		{"full name", models.IntentLearnerName, "Stephen Jansen", false},
		{"single name", models.IntentLearnerName, "Stephen", false},
		{"goals mentioning keyword", models.IntentGoals, "Pass my exam on human anatomy", false},
		{"bare keyword at goals", models.IntentGoals, "human", true},
		{"short request at goals", models.IntentGoals, "ik wil graag met Stephen spreken", true},
		{"english request at name", models.IntentLearnerName, "talk to a human please", true},
		{"request at email", models.IntentEmailCapture, "Stephen spreken!", true},
		{"times mentioning keyword", models.IntentPreferredTimes, "Wanneer Stephen kan, na 16:00", false},
		{"plain answer", models.IntentGoals, "Examen halen", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wantsHuman(tt.intent, tt.input); got != tt.want {
				t.Errorf("wantsHuman(%s, %q) = %v, want %v", tt.intent, tt.input, got, tt.want)
			}
		})
	}
}

func TestOptionsLocalized(t *testing.T) {
	nl := forWhoMenu.options(models.LanguageDutch)
	en := forWhoMenu.options(models.LanguageEnglish)
	if nl[0].Label != "👤 Voor mezelf" || en[0].Label != "👤 For myself" {
		t.Errorf("unexpected labels %q / %q", nl[0].Label, en[0].Label)
	}
	if nl[0].Value != en[0].Value {
		t.Error("values must not depend on language")
	}
}
