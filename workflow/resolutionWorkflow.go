package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hostfolio/propops_backend/config"
	"github.com/hostfolio/propops_backend/models"
	"github.com/hostfolio/propops_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ResolutionDecision is one human verdict on one stored conflict.
type ResolutionDecision struct {
	ConflictIndex int                     `json:"conflict_index"`
	Action        models.ResolutionAction `json:"action" binding:"required,resolution_action"`

	// FieldsToApply limits update_existing to the named fields. Empty means
	// every field the conflict recorded as changed.
	FieldsToApply []string `json:"fields_to_apply"`
}

type ResolutionResult struct {
	Updated int      `json:"updated"`
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// applicableFields maps a decision's field names onto the conflict's changes
// summary entries. Anything else is rejected per-decision.
var applicableFields = map[string]string{
	"guest_name":      "guest",
	"check_in":        "dates",
	"check_out":       "dates",
	"external_status": "status",
	"property":        "property",
}

// ResolveImportConflicts applies a batch of human decisions against the
// conflicts stored in one import session. Decisions are independent: a
// failing one lands in Errors and the rest still apply. Every mutation
// re-fetches its target booking and verifies the conflict's recorded old
// values still hold, since a newer import may have touched the booking after
// detection, and silently overwriting it would defeat the whole engine.
// Each applied decision stamps its conflict resolved in the stored block, so
// replaying the same decision is rejected instead of mutating twice.
func ResolveImportConflicts(ctx context.Context, sessionId int, decisions []ResolutionDecision) (*ResolutionResult, error) {
	session, err := models.GetImportSession(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	conflicts, err := session.ExtractConflicts()
	if err != nil {
		return nil, err
	}

	result := &ResolutionResult{}
	db := config.GetDB()
	dirty := false

	for i, decision := range decisions {
		if decision.ConflictIndex < 0 || decision.ConflictIndex >= len(conflicts) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("decision %d: conflict index %d out of range", i, decision.ConflictIndex))
			continue
		}
		conflict := conflicts[decision.ConflictIndex]
		if resolved, _ := conflict["resolved"].(bool); resolved {
			result.Errors = append(result.Errors,
				fmt.Sprintf("decision %d: conflict %d already resolved", i, decision.ConflictIndex))
			continue
		}

		var err error
		switch decision.Action {
		case models.ResolutionActionSkip:
			result.Skipped++
		case models.ResolutionActionUpdateExisting:
			err = db.Transaction(func(tx *gorm.DB) error {
				return applyUpdateDecision(ctx, tx, session, conflict, decision.FieldsToApply)
			})
			if err == nil {
				result.Updated++
			}
		case models.ResolutionActionCreateNew:
			err = db.Transaction(func(tx *gorm.DB) error {
				return applyCreateDecision(ctx, tx, session, conflict)
			})
			if err == nil {
				result.Created++
			}
		default:
			err = fmt.Errorf("unknown action %q", decision.Action)
		}

		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("decision %d (conflict %d): %s", i, decision.ConflictIndex, err.Error()))
			continue
		}
		conflict["resolved"] = true
		conflict["resolved_action"] = string(decision.Action)
		conflict["resolved_at"] = time.Now().UTC().Format(time.RFC3339)
		dirty = true
	}

	if dirty {
		if err := persistResolvedMarkers(ctx, db, session, conflicts); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("persisting resolution markers: %s", err.Error()))
		}
	}

	return result, nil
}

// persistResolvedMarkers rewrites the session's conflict block so applied
// decisions cannot be replayed against it.
func persistResolvedMarkers(ctx context.Context, db *gorm.DB, session *models.ImportSession, conflicts []map[string]any) error {
	if err := session.ReplaceConflicts(conflicts); err != nil {
		return err
	}
	return db.WithContext(ctx).Model(session).Select("ImportLog").Updates(session).Error
}

// applyUpdateDecision mutates the conflict's target booking, field by
// requested field, under the stale-object guard.
func applyUpdateDecision(ctx context.Context, tx *gorm.DB, session *models.ImportSession, conflict map[string]any, fields []string) error {
	bookingId, ok := numberField(conflict, "existing_booking_id")
	if !ok {
		return fmt.Errorf("conflict has no existing booking to update")
	}

	// Stale-object guard, part one: the booking must still exist. The
	// snapshot captured at detection time is never trusted blindly.
	booking, err := models.GetBooking(ctx, tx, bookingId)
	if err != nil {
		return fmt.Errorf("%w: booking %d", utils.ErrorStaleConflict, bookingId)
	}

	changes, _ := conflict["changes_summary"].(map[string]any)
	if len(fields) == 0 {
		fields = defaultFields(changes)
	}
	if len(fields) == 0 {
		return fmt.Errorf("nothing to apply: conflict recorded no field changes")
	}

	applied := map[string]models.FieldDelta{}
	var columns []string
	var guestChangeType string

	for _, field := range fields {
		summaryKey, allowed := applicableFields[field]
		if !allowed {
			return fmt.Errorf("field %q cannot be applied", field)
		}
		change, _ := changes[summaryKey].(map[string]any)
		if change == nil {
			return fmt.Errorf("conflict recorded no change for field %q", field)
		}

		switch field {
		case "guest_name":
			oldName, _ := change["old"].(string)
			newName, _ := change["new"].(string)
			// Guard, part two: a newer import changed this field since
			// detection; the decision is stale and must not win.
			if booking.GuestName != oldName {
				return fmt.Errorf("%w: guest name changed since detection", utils.ErrorStaleConflict)
			}
			applied["guest_name"] = models.FieldDelta{Old: booking.GuestName, New: newName}
			booking.GuestName = newName
			columns = append(columns, "GuestName")
			guestChangeType, _ = change["change_type"].(string)

		case "check_in", "check_out":
			oldDates, _ := change["old"].(map[string]any)
			newDates, _ := change["new"].(map[string]any)
			oldDate, err := dateField(oldDates, field)
			if err != nil {
				return err
			}
			newDate, err := dateField(newDates, field)
			if err != nil {
				return err
			}
			current := booking.CheckIn
			if field == "check_out" {
				current = booking.CheckOut
			}
			if !utils.SameDate(current, oldDate) {
				return fmt.Errorf("%w: %s changed since detection", utils.ErrorStaleConflict, field)
			}
			applied[field] = models.FieldDelta{Old: current.Format("2006-01-02"), New: newDate.Format("2006-01-02")}
			if field == "check_in" {
				booking.CheckIn = utils.ToDate(newDate)
				columns = append(columns, "CheckIn")
			} else {
				booking.CheckOut = utils.ToDate(newDate)
				columns = append(columns, "CheckOut")
			}

		case "property":
			oldId, ok := numberField(change, "old")
			if !ok {
				return fmt.Errorf("conflict recorded no prior property")
			}
			if booking.PropertyId != oldId {
				return fmt.Errorf("%w: property changed since detection", utils.ErrorStaleConflict)
			}
			newLabel, _ := change["new"].(string)
			property, err := models.FindPropertyByLabel(ctx, newLabel)
			if err != nil {
				return fmt.Errorf("property %q: %w", newLabel, err)
			}
			applied["property_id"] = models.FieldDelta{Old: booking.PropertyId, New: property.ID}
			booking.PropertyId = property.ID
			columns = append(columns, "PropertyId")

		case "external_status":
			oldStatus, _ := change["old"].(string)
			newStatus, _ := change["new"].(string)
			if !strings.EqualFold(strings.TrimSpace(booking.ExternalStatus), strings.TrimSpace(oldStatus)) {
				return fmt.Errorf("%w: status changed since detection", utils.ErrorStaleConflict)
			}
			applied["external_status"] = models.FieldDelta{Old: booking.ExternalStatus, New: newStatus}
			booking.ExternalStatus = newStatus
			columns = append(columns, "ExternalStatus")
			if mapped, ok := models.MapExternalStatus(newStatus); ok {
				applied["status"] = models.FieldDelta{Old: string(booking.Status), New: string(mapped)}
				booking.Status = mapped
				columns = append(columns, "Status")
			}
		}
	}

	booking.Nights = utils.NightsBetween(booking.CheckIn, booking.CheckOut)
	columns = append(columns, "Nights")
	now := time.Now().UTC()
	booking.LastImportUpdate = &now
	columns = append(columns, "LastImportUpdate")

	if err := tx.WithContext(ctx).Model(booking).Select(columns).Updates(booking).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return fmt.Errorf("booking code %q already exists under the target property", booking.ExternalCode)
		}
		return err
	}

	return models.CreateAuditEntry(tx.WithContext(ctx), "Booking", booking.ID, models.AuditActionUpdate,
		applied, &models.ChangeMetadata{ChangeType: guestChangeType, ImportId: session.ID})
}

// applyCreateDecision materializes the incoming row as a brand-new booking.
func applyCreateDecision(ctx context.Context, tx *gorm.DB, session *models.ImportSession, conflict map[string]any) error {
	rowData, _ := conflict["incoming_row"].(map[string]any)
	if rowData == nil {
		return fmt.Errorf("conflict has no incoming row")
	}

	row, source, err := rowFromSerialized(rowData)
	if err != nil {
		return err
	}

	property, err := models.FindPropertyByLabel(ctx, row.PropertyLabel)
	if err != nil {
		return fmt.Errorf("property %q: %w", row.PropertyLabel, err)
	}

	// Direct/Owner bookings created out of a review get a human-visible
	// suffix so the duplicate pair is tellable apart in any list.
	if source.IsDirectChannel() && row.ExternalCode != "" {
		row.ExternalCode += " (manual)"
	}

	_, err = createBookingFromRow(ctx, tx, row, source, property, session.ID)
	return err
}

func defaultFields(changes map[string]any) []string {
	var fields []string
	if _, ok := changes["guest"]; ok {
		fields = append(fields, "guest_name")
	}
	if _, ok := changes["dates"]; ok {
		fields = append(fields, "check_in", "check_out")
	}
	if _, ok := changes["status"]; ok {
		fields = append(fields, "external_status")
	}
	if _, ok := changes["property"]; ok {
		fields = append(fields, "property")
	}
	return fields
}

func numberField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func dateField(m map[string]any, key string) (time.Time, error) {
	s, _ := m[key].(string)
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed date %q for %s", s, key)
	}
	return t, nil
}

// rowFromSerialized rebuilds a NormalizedRow from its stored form.
func rowFromSerialized(m map[string]any) (*NormalizedRow, models.BookingSource, error) {
	row := &NormalizedRow{}
	row.GuestName, _ = m["guest_name"].(string)
	row.GuestContact, _ = m["guest_contact"].(string)
	row.PropertyLabel, _ = m["property_label"].(string)
	row.SourceRaw, _ = m["source"].(string)
	row.ExternalCode, _ = m["external_code"].(string)
	row.ExternalStatus, _ = m["external_status"].(string)
	if n, ok := numberField(m, "row_number"); ok {
		row.RowNumber = n
	}
	if n, ok := numberField(m, "nights"); ok {
		row.Nights = n
	}
	if n, ok := numberField(m, "adults"); ok {
		row.Adults = n
	}
	if n, ok := numberField(m, "children"); ok {
		row.Children = n
	}
	if n, ok := numberField(m, "infants"); ok {
		row.Infants = n
	}

	var err error
	if row.CheckIn, err = dateField(m, "check_in"); err != nil {
		return nil, "", err
	}
	if row.CheckOut, err = dateField(m, "check_out"); err != nil {
		return nil, "", err
	}

	if s, ok := m["earnings_amount"].(string); ok && s != "" {
		if row.EarningsAmount, err = utils.ParseDecimal(s); err != nil {
			return nil, "", fmt.Errorf("malformed earnings amount %q", s)
		}
	} else if f, ok := m["earnings_amount"].(float64); ok {
		row.EarningsAmount = decimal.NewFromFloat(f)
	}

	source, err := models.NormalizeBookingSource(row.SourceRaw)
	if err != nil {
		return nil, "", err
	}
	return row, source, nil
}
