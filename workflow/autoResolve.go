package workflow

import (
	"context"
	"time"

	"github.com/hostfolio/propops_backend/models"
	"gorm.io/gorm"
)

// ApplySafeStatusChange applies the one class of change the engine trusts
// without review: a status update from a platform source. It copies the raw
// external status verbatim, mirrors it onto the internal enum through the
// token table (unknown strings leave the enum untouched), stamps provenance
// and writes the audit entry. Guest name, dates and property are never
// touched here.
//
// Only ever invoked when DetectConflict returned AutoResolve=true.
func ApplySafeStatusChange(ctx context.Context, tx *gorm.DB, booking *models.Booking, row *NormalizedRow, importId int) error {
	oldExternal := booking.ExternalStatus
	oldStatus := booking.Status

	booking.ExternalStatus = row.ExternalStatus
	if mapped, ok := models.MapExternalStatus(row.ExternalStatus); ok {
		booking.Status = mapped
	}
	now := time.Now().UTC()
	booking.LastImportUpdate = &now

	err := tx.WithContext(ctx).Model(booking).
		Select("ExternalStatus", "Status", "LastImportUpdate").
		Updates(booking).Error
	if err != nil {
		return err
	}

	changes := map[string]models.FieldDelta{
		"external_status": {Old: oldExternal, New: booking.ExternalStatus},
	}
	if oldStatus != booking.Status {
		changes["status"] = models.FieldDelta{Old: string(oldStatus), New: string(booking.Status)}
	}

	return models.CreateAuditEntry(tx.WithContext(ctx), "Booking", booking.ID, models.AuditActionUpdate,
		changes, &models.ChangeMetadata{ChangeType: "status_auto_resolve", ImportId: importId})
}
