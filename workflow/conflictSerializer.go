package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/hostfolio/propops_backend/models"
	"github.com/shopspring/decimal"
)

// SerializeConflict turns a ConflictRecord into a plain-data structure fit
// for a JSON log field and for the review UI. Dates become ISO-8601 strings,
// the booking reference becomes its primitive id, and the changes summary
// stays a nested mapping. Total: anything unrecognized is stringified, never
// raised.
func SerializeConflict(c *ConflictRecord) map[string]any {
	serialized := map[string]any{
		"row_number":       c.RowNumber,
		"conflict_types":   conflictTypeStrings(c.ConflictTypes),
		"confidence_score": c.ConfidenceScore,
		"incoming_row":     serializeRow(&c.Row),
		"changes_summary":  serializeChanges(c.Changes),
	}
	if c.ExistingBooking != nil {
		serialized["existing_booking_id"] = c.ExistingBooking.ID
		serialized["existing_booking_code"] = c.ExistingBooking.ExternalCode
	}
	return serialized
}

// SerializeConflicts renders the whole list for the session log block,
// highest confidence first so reviewers see the likeliest matches on top.
func SerializeConflicts(conflicts []*ConflictRecord) []map[string]any {
	ordered := make([]*ConflictRecord, len(conflicts))
	copy(ordered, conflicts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ConfidenceScore > ordered[j].ConfidenceScore
	})

	out := make([]map[string]any, 0, len(ordered))
	for _, c := range ordered {
		out = append(out, SerializeConflict(c))
	}
	return out
}

func conflictTypeStrings(types []models.ConflictType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}

func serializeRow(row *NormalizedRow) map[string]any {
	return map[string]any{
		"row_number":      row.RowNumber,
		"guest_name":      row.GuestName,
		"guest_contact":   row.GuestContact,
		"property_label":  row.PropertyLabel,
		"source":          row.SourceRaw,
		"external_code":   row.ExternalCode,
		"external_status": row.ExternalStatus,
		"check_in":        serializeValue(row.CheckIn),
		"check_out":       serializeValue(row.CheckOut),
		"nights":          row.DerivedNights(),
		"earnings_amount": serializeValue(row.EarningsAmount),
		"adults":          row.Adults,
		"children":        row.Children,
		"infants":         row.Infants,
	}
}

func serializeChanges(changes ChangesSummary) map[string]any {
	out := make(map[string]any, len(changes))
	for field, change := range changes {
		if change == nil {
			continue
		}
		entry := map[string]any{
			"old": serializeValue(change.Old),
			"new": serializeValue(change.New),
		}
		if change.ChangeType != "" {
			entry["change_type"] = change.ChangeType
		}
		if change.Description != "" {
			entry["description"] = change.Description
		}
		if change.LikelyEncodingIssue {
			entry["likely_encoding_issue"] = true
		}
		out[field] = entry
	}
	return out
}

// serializeValue reduces any value to JSON-safe primitives. It must be total:
// a value it does not recognize is stringified rather than rejected.
func serializeValue(v any) any {
	switch value := v.(type) {
	case nil:
		return nil
	case bool, string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return value
	case time.Time:
		return value.UTC().Format(time.RFC3339)
	case *time.Time:
		if value == nil {
			return nil
		}
		return value.UTC().Format(time.RFC3339)
	case decimal.Decimal:
		return value.String()
	case *models.Booking:
		if value == nil {
			return nil
		}
		return value.ID
	case models.Booking:
		return value.ID
	case map[string]time.Time:
		out := make(map[string]any, len(value))
		for k, t := range value {
			out[k] = t.UTC().Format(time.RFC3339)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, inner := range value {
			out[k] = serializeValue(inner)
		}
		return out
	case []any:
		out := make([]any, 0, len(value))
		for _, inner := range value {
			out = append(out, serializeValue(inner))
		}
		return out
	default:
		return fmt.Sprintf("%v", value)
	}
}
