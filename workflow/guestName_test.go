package workflow

import "testing"

func TestAnalyzeGuestNameChangeIdentical(t *testing.T) {
	cases := [][2]string{
		{"Jane Doe", "Jane Doe"},
		{"Jane Doe", "  jane   doe "},
		{"JANE DOE", "jane doe"},
	}
	for _, c := range cases {
		got := AnalyzeGuestNameChange(c[0], c[1])
		if got.Type != GuestNameIdentical {
			t.Fatalf("AnalyzeGuestNameChange(%q, %q) = %s, want identical", c[0], c[1], got.Type)
		}
	}
}

func TestAnalyzeGuestNameChangeMojibake(t *testing.T) {
	// "MÃ¼ller" is the Windows-1252 misreading of UTF-8 "Müller".
	old := "Kathrin MÃ¼ller"

	got := AnalyzeGuestNameChange(old, "Kathrin Muller")
	if got.Type != GuestNameEncodingCorrection {
		t.Fatalf("mojibake vs ascii: got %s, want encoding_correction", got.Type)
	}
	if !got.LikelyEncodingIssue {
		t.Fatalf("mojibake vs ascii: LikelyEncodingIssue = false, want true")
	}

	got = AnalyzeGuestNameChange(old, "Kathrin Müller")
	if got.Type != GuestNameEncodingCorrection {
		t.Fatalf("mojibake vs repaired: got %s, want encoding_correction", got.Type)
	}
}

func TestAnalyzeGuestNameChangeDiacritics(t *testing.T) {
	got := AnalyzeGuestNameChange("José García", "Jose Garcia")
	if got.Type != GuestNameDiacriticsOnly {
		t.Fatalf("José García vs Jose Garcia: got %s, want diacritics_only", got.Type)
	}
	if got.LikelyEncodingIssue {
		t.Fatalf("diacritics-only change should not be flagged as an encoding issue")
	}
}

func TestAnalyzeGuestNameChangeMinorCorrection(t *testing.T) {
	got := AnalyzeGuestNameChange("John Smith", "Jon Smith")
	if got.Type != GuestNameMinorCorrection {
		t.Fatalf("John/Jon Smith: got %s, want minor_correction", got.Type)
	}

	// All tokens are long, so two edits still read as a typo fix.
	got = AnalyzeGuestNameChange("Alexander Hamilton", "Alexandra Hamilton")
	if got.Type != GuestNameMinorCorrection {
		t.Fatalf("Alexander/Alexandra Hamilton: got %s, want minor_correction", got.Type)
	}
}

func TestAnalyzeGuestNameChangeRealChange(t *testing.T) {
	got := AnalyzeGuestNameChange("John Smith", "Mary Jones")
	if got.Type != GuestNameRealChange {
		t.Fatalf("John Smith vs Mary Jones: got %s, want real_change", got.Type)
	}

	// Short names get a tighter edit threshold: two edits on a
	// three-letter name is a different person, not a typo fix.
	got = AnalyzeGuestNameChange("Ann Lee", "Abe Lee")
	if got.Type != GuestNameRealChange {
		t.Fatalf("Ann Lee vs Abe Lee: got %s, want real_change", got.Type)
	}
}

func TestStripDiacritics(t *testing.T) {
	if got := stripDiacritics("José"); got != "Jose" {
		t.Fatalf("stripDiacritics(José) = %q", got)
	}
	if got := stripDiacritics("plain"); got != "plain" {
		t.Fatalf("stripDiacritics(plain) = %q", got)
	}
}
