package workflow

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type GuestNameChangeType string

const (
	GuestNameIdentical          GuestNameChangeType = "identical"
	GuestNameEncodingCorrection GuestNameChangeType = "encoding_correction"
	GuestNameDiacriticsOnly     GuestNameChangeType = "diacritics_only"
	GuestNameMinorCorrection    GuestNameChangeType = "minor_correction"
	GuestNameRealChange         GuestNameChangeType = "real_change"
)

// GuestNameAnalysis classifies the kind of difference between two guest
// names. It is advisory metadata for reviewers (grouping, bulk apply); it
// never gates automatic mutation, since guest identity changes always require
// a human.
type GuestNameAnalysis struct {
	Type                GuestNameChangeType `json:"change_type"`
	Description         string              `json:"description"`
	LikelyEncodingIssue bool                `json:"likely_encoding_issue"`
}

// AnalyzeGuestNameChange compares the stored guest name against the incoming
// one. Checks run cheapest-first: case/whitespace, mojibake repair,
// diacritics, then edit distance.
func AnalyzeGuestNameChange(oldName, newName string) GuestNameAnalysis {
	oldNorm := normalizeName(oldName)
	newNorm := normalizeName(newName)

	if oldNorm == newNorm {
		return GuestNameAnalysis{
			Type:        GuestNameIdentical,
			Description: "names match after case and whitespace normalization",
		}
	}

	// Mojibake: UTF-8 bytes were once decoded as Windows-1252, so the stored
	// name holds a character per original byte. Re-encoding those characters
	// as 1252 recovers the original UTF-8 bytes.
	if repaired, ok := repairMojibake(oldName); ok {
		if foldName(repaired) == foldName(newName) {
			return GuestNameAnalysis{
				Type:                GuestNameEncodingCorrection,
				Description:         fmt.Sprintf("stored name %q appears to be a broken encoding of %q", oldName, repaired),
				LikelyEncodingIssue: true,
			}
		}
	}

	if foldName(oldName) == foldName(newName) {
		return GuestNameAnalysis{
			Type:        GuestNameDiacriticsOnly,
			Description: "names differ only in diacritics",
		}
	}

	distance := levenshtein.ComputeDistance(oldNorm, newNorm)
	if distance <= editThreshold(oldNorm, newNorm) {
		return GuestNameAnalysis{
			Type:        GuestNameMinorCorrection,
			Description: fmt.Sprintf("names are %d character edit(s) apart", distance),
		}
	}

	return GuestNameAnalysis{
		Type:        GuestNameRealChange,
		Description: "names refer to what looks like a different guest",
	}
}

// editThreshold scales the minor-correction cutoff with name length. The
// shortest token across both names sets the budget: one edit for tokens under
// six runes, two otherwise. Anchoring on the shortest token keeps a long
// surname from loosening the cutoff for a three-letter given name.
func editThreshold(a, b string) int {
	shortest := 0
	for _, name := range []string{a, b} {
		for _, token := range strings.Fields(name) {
			n := utf8.RuneCountInString(token)
			if shortest == 0 || n < shortest {
				shortest = n
			}
		}
	}
	if shortest < 6 {
		return 1
	}
	return 2
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// foldName lowercases, collapses whitespace and strips diacritics, so
// "Müller" and "Muller" compare equal.
func foldName(name string) string {
	return stripDiacritics(normalizeName(name))
}

var diacriticsStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func stripDiacritics(s string) string {
	out, _, err := transform.String(diacriticsStripper, s)
	if err != nil {
		return s
	}
	return out
}

// repairMojibake attempts the round-trip repair: encode the string back to
// Windows-1252 bytes and reinterpret them as UTF-8. Returns ok=false when the
// string has no plausible mojibake (encoding fails, bytes are not valid
// UTF-8, or nothing changed).
func repairMojibake(s string) (string, bool) {
	encoded, err := charmap.Windows1252.NewEncoder().String(s)
	if err != nil {
		return "", false
	}
	if encoded == s || !utf8.ValidString(encoded) {
		return "", false
	}
	// A repair that produced control characters is garbage, not a fix.
	for _, r := range encoded {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return "", false
		}
	}
	return encoded, true
}
