package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hostfolio/propops_backend/models"
	"github.com/hostfolio/propops_backend/utils"
	"gorm.io/gorm"
)

// FieldChange is one entry of a conflict's changes summary. It stays a nested
// structure end to end: the review UI reads changes_summary.guest.change_type
// directly, without re-parsing a flattened string.
type FieldChange struct {
	Old                 any    `json:"old"`
	New                 any    `json:"new"`
	ChangeType          string `json:"change_type,omitempty"`
	Description         string `json:"description,omitempty"`
	LikelyEncodingIssue bool   `json:"likely_encoding_issue,omitempty"`
}

type ChangesSummary map[string]*FieldChange

// ConflictRecord is the transient record of one unresolved difference. Only
// its serialized form (conflictSerializer.go) is persisted, inside the import
// session log.
type ConflictRecord struct {
	ExistingBooking *models.Booking
	Row             NormalizedRow
	ConflictTypes   []models.ConflictType
	RowNumber       int
	ConfidenceScore float64
	Changes         ChangesSummary
}

// DetectionResult is the verdict for one row: the best existing match (if
// any), what differs, how confident the match is, and whether the difference
// is safe to apply without review.
type DetectionResult struct {
	Matched               *models.Booking
	ConflictTypes         []models.ConflictType
	ConfidenceScore       float64
	AutoResolve           bool
	DuplicateOfSameImport bool
	Changes               ChangesSummary
}

// DetectConflict runs the matching ladder for one validated row. Priority
// order, first match wins:
//
//  1. exact code match scoped to (property, source)
//  2. same guest + identical stay dates under a different/missing code
//  3. same guest + overlapping-but-not-identical dates (never auto-resolved)
//  4. same code + source under a different property (property change)
//  5. overlap with a self-reported Direct/Owner booking (duplicate_direct)
//
// seen carries the dedup keys of rows already processed in this pass.
func DetectConflict(ctx context.Context, tx *gorm.DB, row *NormalizedRow, source models.BookingSource, property *models.Property, seen map[string]struct{}) (*DetectionResult, error) {
	if _, dup := seen[row.dedupKey(property.ID, source)]; dup {
		return &DetectionResult{DuplicateOfSameImport: true}, nil
	}

	// 1. Scoped exact-code match.
	byCode, err := models.FindBookingByScopedCode(ctx, tx, property.ID, source, row.ExternalCode)
	if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, err
	}
	if byCode != nil {
		return resultForMatch(byCode, row, source, matchBasis{code: true, property: true}), nil
	}

	guestMatches, err := models.ListGuestBookings(ctx, tx, property.ID, row.GuestName)
	if err != nil {
		return nil, err
	}

	// 2. Guest + identical dates: the same human booking re-imported under a
	// regenerated or missing code.
	for i := range guestMatches {
		candidate := &guestMatches[i]
		if utils.SameDate(candidate.CheckIn, row.CheckIn) && utils.SameDate(candidate.CheckOut, row.CheckOut) {
			return resultForMatch(candidate, row, source, matchBasis{property: true}), nil
		}
	}

	// 3. Guest + overlapping dates: classified as a date change, never
	// auto-resolved.
	for i := range guestMatches {
		candidate := &guestMatches[i]
		if utils.DateRangesOverlap(candidate.CheckIn, candidate.CheckOut, row.CheckIn, row.CheckOut) {
			return resultForMatch(candidate, row, source, matchBasis{property: true}), nil
		}
	}

	// 4. Same (source, code) under another property: the booking moved
	// between property labels. Only trusted when the guest also matches.
	if strings.TrimSpace(row.ExternalCode) != "" {
		crossProperty, err := models.FindBookingBySourceCode(ctx, tx, source, row.ExternalCode)
		if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, err
		}
		if crossProperty != nil && foldName(crossProperty.GuestName) == foldName(row.GuestName) {
			return resultForMatch(crossProperty, row, source, matchBasis{code: true, propertyChanged: true}), nil
		}
	}

	// 5. A platform row overlapping a self-reported Direct/Owner booking is
	// ambiguous even when every field agrees; a human decides.
	if !source.IsDirectChannel() {
		directOverlaps, err := models.ListOverlappingDirectBookings(ctx, tx, property.ID, row.CheckIn, row.CheckOut)
		if err != nil {
			return nil, err
		}
		if len(directOverlaps) > 0 {
			candidate := &directOverlaps[0]
			result := resultForMatch(candidate, row, source, matchBasis{property: true})
			result.ConflictTypes = appendType(result.ConflictTypes, models.ConflictTypeDuplicateDirect)
			result.AutoResolve = false
			return result, nil
		}
	}

	// No match: not a conflict, proceed to create a new booking.
	return &DetectionResult{}, nil
}

// matchBasis records which keys produced the match, for scoring and
// classification.
type matchBasis struct {
	code            bool
	property        bool
	propertyChanged bool
}

func resultForMatch(existing *models.Booking, row *NormalizedRow, source models.BookingSource, basis matchBasis) *DetectionResult {
	types, changes := classifyDifferences(existing, row)

	if basis.propertyChanged {
		types = appendType(types, models.ConflictTypePropertyChange)
		changes["property"] = &FieldChange{Old: existing.PropertyId, New: row.PropertyLabel}
	}

	// A cross-source match onto a Direct/Owner booking is an ambiguous
	// duplicate of unverified self-reported data, whatever else differs.
	if existing.Source.IsDirectChannel() && existing.Source != source {
		types = appendType(types, models.ConflictTypeDuplicateDirect)
	}

	result := &DetectionResult{
		Matched:         existing,
		ConflictTypes:   types,
		ConfidenceScore: confidenceScore(existing, row, basis),
		Changes:         changes,
	}
	result.AutoResolve = autoResolveVerdict(result.ConflictTypes, source)
	return result
}

// autoResolveVerdict is the safety-critical decision: only a pure status
// change from a recognized platform source applies without review.
func autoResolveVerdict(types []models.ConflictType, source models.BookingSource) bool {
	return len(types) == 1 && types[0] == models.ConflictTypeStatusChange && source.IsPlatform()
}

// classifyDifferences compares stay dates, guest name and raw external status
// between an existing booking and the incoming row.
func classifyDifferences(existing *models.Booking, row *NormalizedRow) ([]models.ConflictType, ChangesSummary) {
	var types []models.ConflictType
	changes := ChangesSummary{}

	if !utils.SameDate(existing.CheckIn, row.CheckIn) || !utils.SameDate(existing.CheckOut, row.CheckOut) {
		types = append(types, models.ConflictTypeDateChange)
		changes["dates"] = &FieldChange{
			Old: map[string]time.Time{"check_in": existing.CheckIn, "check_out": existing.CheckOut},
			New: map[string]time.Time{"check_in": row.CheckIn, "check_out": row.CheckOut},
		}
	}

	analysis := AnalyzeGuestNameChange(existing.GuestName, row.GuestName)
	if analysis.Type != GuestNameIdentical {
		types = append(types, models.ConflictTypeGuestChange)
		changes["guest"] = &FieldChange{
			Old:                 existing.GuestName,
			New:                 row.GuestName,
			ChangeType:          string(analysis.Type),
			Description:         analysis.Description,
			LikelyEncodingIssue: analysis.LikelyEncodingIssue,
		}
	}

	// A sheet without a status column is silence, not a change.
	if strings.TrimSpace(row.ExternalStatus) != "" && !equalStatus(existing.ExternalStatus, row.ExternalStatus) {
		types = append(types, models.ConflictTypeStatusChange)
		changes["status"] = &FieldChange{Old: existing.ExternalStatus, New: row.ExternalStatus}
	}

	return types, changes
}

func equalStatus(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// confidenceScore is informational: it drives reviewer sort order and never
// gates auto-resolve on its own. Code match 0.4, guest 0.3, property 0.2,
// exact dates 0.1 (partial overlap 0.05), capped at 1.0.
func confidenceScore(existing *models.Booking, row *NormalizedRow, basis matchBasis) float64 {
	score := 0.0
	if basis.code {
		score += 0.4
	}
	if foldName(existing.GuestName) == foldName(row.GuestName) {
		score += 0.3
	}
	if basis.property && !basis.propertyChanged {
		score += 0.2
	}
	if utils.SameDate(existing.CheckIn, row.CheckIn) && utils.SameDate(existing.CheckOut, row.CheckOut) {
		score += 0.1
	} else if utils.DateRangesOverlap(existing.CheckIn, existing.CheckOut, row.CheckIn, row.CheckOut) {
		score += 0.05
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func appendType(types []models.ConflictType, t models.ConflictType) []models.ConflictType {
	for _, existing := range types {
		if existing == t {
			return types
		}
	}
	return append(types, t)
}
