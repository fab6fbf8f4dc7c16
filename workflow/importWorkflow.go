package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/hostfolio/propops_backend/config"
	"github.com/hostfolio/propops_backend/models"
	"github.com/hostfolio/propops_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// ImportInput is one batch pass: one file, rows in sheet order.
type ImportInput struct {
	FileName string
	Rows     []NormalizedRow
}

// ImportSummary is the caller-facing outcome of a pass.
type ImportSummary struct {
	SessionId         int              `json:"session_id"`
	TotalRows         int              `json:"total_rows"`
	SuccessfulImports int              `json:"successful_imports"`
	AutoUpdated       int              `json:"auto_updated"`
	ConflictsDetected int              `json:"conflicts_detected"`
	RequiresReview    bool             `json:"requires_review"`
	Errors            []string         `json:"errors"`
	Conflicts         []map[string]any `json:"conflicts"`
}

// ImportContext accumulates one pass's in-memory state through a narrow
// append-only surface. Conflicts are flushed to the session log in a single
// write at finalize, so an interrupted pass never persists a partial block.
type ImportContext struct {
	session *models.ImportSession

	conflicts []*ConflictRecord
	errors    []string
	seen      map[string]struct{}

	successfulImports int
	autoUpdated       int
}

func newImportContext(session *models.ImportSession) *ImportContext {
	return &ImportContext{
		session: session,
		seen:    make(map[string]struct{}),
	}
}

func (ic *ImportContext) addError(format string, args ...any) {
	ic.errors = append(ic.errors, fmt.Sprintf(format, args...))
}

func (ic *ImportContext) addConflict(c *ConflictRecord) {
	ic.conflicts = append(ic.conflicts, c)
}

func (ic *ImportContext) markSeen(key string) {
	ic.seen[key] = struct{}{}
}

// RunBookingImport executes one sequential batch pass. Rows are processed
// strictly in order, each inside its own transaction, so one bad row is
// logged and skipped without rolling back rows already committed
// (partial-success semantics).
//
// Returns utils.ErrorPropertyApprovalRequired (before any row is committed)
// when a non-superuser references a property that does not exist yet.
func RunBookingImport(ctx context.Context, input *ImportInput) (*ImportSummary, error) {
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	properties, err := resolveRowProperties(ctx, input.Rows)
	if err != nil {
		return nil, err
	}

	session, err := models.CreateImportSession(ctx, input.FileName)
	if err != nil {
		return nil, err
	}

	ic := newImportContext(session)
	db := config.GetDB()

	for i := range input.Rows {
		row := &input.Rows[i]
		if row.RowNumber == 0 {
			row.RowNumber = i + 1
		}
		processRow(ctx, db, logger, ic, row, properties)
	}

	return finalizeImport(ctx, ic, len(input.Rows))
}

// resolveRowProperties maps every distinct property label up front. A
// superuser import creates missing properties; anyone else halts the whole
// pass with the requires-approval outcome, since a partial import against an
// unapproved property set is worse than none.
func resolveRowProperties(ctx context.Context, rows []NormalizedRow) (map[string]*models.Property, error) {
	properties := make(map[string]*models.Property)
	isSuperuser, _ := utils.GetIsSuperuserFromContext(ctx)

	var missing []string
	for i := range rows {
		label := strings.TrimSpace(rows[i].PropertyLabel)
		if label == "" {
			continue // caught later by row validation
		}
		key := strings.ToLower(label)
		if _, done := properties[key]; done {
			continue
		}

		property, err := models.FindPropertyByLabel(ctx, label)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			if !isSuperuser {
				missing = append(missing, label)
				continue
			}
			property, err = models.CreateProperty(ctx, &models.NewProperty{Name: label})
		}
		if err != nil {
			return nil, err
		}
		properties[key] = property
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", utils.ErrorPropertyApprovalRequired,
			strings.Join(utils.UniqueSlice(missing), ", "))
	}
	return properties, nil
}

// processRow is the per-row unit of work and its error boundary: validation
// failures, transaction errors and panics all end up as one line in the
// session's error list.
func processRow(ctx context.Context, db *gorm.DB, logger *logrus.Logger, ic *ImportContext, row *NormalizedRow, properties map[string]*models.Property) {
	defer func() {
		if r := recover(); r != nil {
			config.LogError(logger, "importWorkflow.go", "processRow", "panic while processing row", row.RowNumber, fmt.Errorf("%v", r))
			ic.addError("row %d: unexpected failure: %v", row.RowNumber, r)
		}
	}()

	source, err := row.Validate()
	if err != nil {
		ic.addError("%s", err.Error())
		return
	}

	property := properties[strings.ToLower(strings.TrimSpace(row.PropertyLabel))]
	if property == nil {
		ic.addError("row %d: property %q could not be resolved", row.RowNumber, row.PropertyLabel)
		return
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		detection, err := DetectConflict(ctx, tx, row, source, property, ic.seen)
		if err != nil {
			return err
		}

		switch {
		case detection.DuplicateOfSameImport:
			// Exact duplicate of an earlier row in this pass: skip silently.
			return nil

		case detection.Matched == nil:
			if _, err := createBookingFromRow(ctx, tx, row, source, property, ic.session.ID); err != nil {
				return err
			}
			ic.successfulImports++
			return nil

		case len(detection.ConflictTypes) == 0:
			// Idempotent re-import: nothing differs, nothing to do.
			return nil

		case detection.AutoResolve:
			if err := ApplySafeStatusChange(ctx, tx, detection.Matched, row, ic.session.ID); err != nil {
				return err
			}
			ic.autoUpdated++
			return nil

		default:
			ic.addConflict(&ConflictRecord{
				ExistingBooking: detection.Matched,
				Row:             *row,
				ConflictTypes:   detection.ConflictTypes,
				RowNumber:       row.RowNumber,
				ConfidenceScore: detection.ConfidenceScore,
				Changes:         detection.Changes,
			})
			return nil
		}
	})
	if err != nil {
		ic.addError("row %d: %s", row.RowNumber, err.Error())
		return
	}

	ic.markSeen(row.dedupKey(property.ID, source))
}

// createBookingFromRow is the creation path for a row that matched nothing.
func createBookingFromRow(ctx context.Context, tx *gorm.DB, row *NormalizedRow, source models.BookingSource, property *models.Property, importId int) (*models.Booking, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	code, err := AllocateBookingCode(ctx, tx, property.ID, source, row.ExternalCode)
	if err != nil {
		return nil, err
	}

	status := models.BookingStatusConfirmed
	if mapped, ok := models.MapExternalStatus(row.ExternalStatus); ok {
		status = mapped
	}

	now := time.Now().UTC()
	booking := models.Booking{
		BusinessId:       businessId,
		PropertyId:       property.ID,
		Source:           source,
		ExternalCode:     code,
		GuestName:        strings.TrimSpace(row.GuestName),
		GuestContact:     strings.TrimSpace(row.GuestContact),
		CheckIn:          utils.ToDate(row.CheckIn),
		CheckOut:         utils.ToDate(row.CheckOut),
		Nights:           row.DerivedNights(),
		ExternalStatus:   row.ExternalStatus,
		Status:           status,
		EarningsAmount:   row.EarningsAmount,
		Adults:           row.Adults,
		Children:         row.Children,
		Infants:          row.Infants,
		LastImportUpdate: &now,
		RawRow:           row.Snapshot(),
	}

	if err := tx.WithContext(ctx).Create(&booking).Error; err != nil {
		// The scope index is unique; a concurrent pass can win the code
		// between allocation and insert.
		if isDuplicateKeyErr(err) {
			return nil, fmt.Errorf("booking code %q was allocated concurrently, re-import the row", code)
		}
		return nil, err
	}

	err = models.CreateAuditEntry(tx.WithContext(ctx), "Booking", booking.ID, models.AuditActionCreate,
		map[string]models.FieldDelta{
			"external_code": {Old: nil, New: booking.ExternalCode},
			"guest_name":    {Old: nil, New: booking.GuestName},
		},
		&models.ChangeMetadata{ImportId: importId})
	if err != nil {
		return nil, err
	}

	return &booking, nil
}

// finalizeImport writes the session exactly once with final counters, the
// plain error lines and the single conflict JSON block.
func finalizeImport(ctx context.Context, ic *ImportContext, totalRows int) (*ImportSummary, error) {
	session := ic.session
	session.TotalRows = totalRows
	session.SuccessfulImports = ic.successfulImports
	session.AutoUpdatedCount = ic.autoUpdated
	session.ConflictCount = len(ic.conflicts)

	for _, line := range ic.errors {
		session.AppendLogLine(line)
	}

	serialized := SerializeConflicts(ic.conflicts)
	if err := session.EmbedConflicts(serialized); err != nil {
		return nil, err
	}
	if err := session.Finalize(ctx, models.ImportSessionStatusCompleted); err != nil {
		return nil, err
	}

	return &ImportSummary{
		SessionId:         session.ID,
		TotalRows:         totalRows,
		SuccessfulImports: ic.successfulImports,
		AutoUpdated:       ic.autoUpdated,
		ConflictsDetected: len(ic.conflicts),
		RequiresReview:    len(ic.conflicts) > 0,
		Errors:            ic.errors,
		Conflicts:         serialized,
	}, nil
}
