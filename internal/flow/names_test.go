package flow

import "testing"

func TestNameValidator(t *testing.T) {
	v := DefaultNameValidator()
	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{"Sanne", "Sanne", true},
		{"  Jan   de  Vries. ", "Jan de Vries", true},
		{"Zoë", "Zoë", true},
		{"Anne-Marie", "Anne-Marie", true},
		{"A", "", false},
		{"123", "", false},
		{"Jan123456", "", false},
		{"😀😀😀 Jo", "", false},
		{"whatsapp", "", false},
		{"Hoi", "", false},
		{"!!!", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := v.Validate(tt.input)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Validate(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNameValidatorMaxRunes(t *testing.T) {
	v := DefaultNameValidator()
	v.MaxRunes = 5
	if _, ok := v.Validate("Alexander"); ok {
		t.Error("expected name over the rune limit to be rejected")
	}
}
