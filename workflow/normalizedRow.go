package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hostfolio/propops_backend/models"
	"github.com/hostfolio/propops_backend/utils"
	"github.com/shopspring/decimal"
)

// NormalizedRow is one cleaning-schedule row after normalization. The row
// reader (or any other upstream producer) fills it; required fields are
// checked once here at the boundary so matching logic never sees a half-empty
// row.
type NormalizedRow struct {
	RowNumber int `json:"row_number"`

	GuestName     string `json:"guest_name"`
	GuestContact  string `json:"guest_contact,omitempty"`
	PropertyLabel string `json:"property_label"`
	SourceRaw     string `json:"source"`

	ExternalCode   string `json:"external_code,omitempty"`
	ExternalStatus string `json:"external_status,omitempty"`

	CheckIn  time.Time `json:"check_in"`
	CheckOut time.Time `json:"check_out"`
	Nights   int       `json:"nights,omitempty"`

	EarningsAmount decimal.Decimal `json:"earnings_amount"`
	Adults         int             `json:"adults,omitempty"`
	Children       int             `json:"children,omitempty"`
	Infants        int             `json:"infants,omitempty"`

	// Raw keeps the original cell values for the provenance snapshot.
	Raw map[string]string `json:"-"`
}

// Validate enforces the boundary contract and resolves the raw source token.
// A failing row is logged to the session and skipped; the pass continues.
func (r *NormalizedRow) Validate() (models.BookingSource, error) {
	if strings.TrimSpace(r.GuestName) == "" {
		return "", fmt.Errorf("row %d: guest name is required", r.RowNumber)
	}
	if strings.TrimSpace(r.PropertyLabel) == "" {
		return "", fmt.Errorf("row %d: property label is required", r.RowNumber)
	}
	source, err := models.NormalizeBookingSource(r.SourceRaw)
	if err != nil {
		return "", fmt.Errorf("row %d: %w", r.RowNumber, err)
	}
	if r.CheckIn.IsZero() {
		return "", fmt.Errorf("row %d: check-in date is missing or unparsable", r.RowNumber)
	}
	if r.CheckOut.IsZero() {
		return "", fmt.Errorf("row %d: check-out date is missing or unparsable", r.RowNumber)
	}
	if utils.ToDate(r.CheckOut).Before(utils.ToDate(r.CheckIn)) {
		return "", fmt.Errorf("row %d: check-out precedes check-in", r.RowNumber)
	}
	if err := utils.ValidateGuestContact(r.GuestContact); err != nil {
		return "", fmt.Errorf("row %d: %w", r.RowNumber, err)
	}
	return source, nil
}

// DerivedNights returns the row's night count, deriving it from the stay
// dates when the sheet omitted it.
func (r *NormalizedRow) DerivedNights() int {
	if r.Nights >= 1 {
		return r.Nights
	}
	return utils.NightsBetween(r.CheckIn, r.CheckOut)
}

// Snapshot renders the raw-row provenance JSON stored on the booking.
func (r *NormalizedRow) Snapshot() string {
	payload := r.Raw
	if payload == nil {
		payload = map[string]string{
			"guest_name":      r.GuestName,
			"property_label":  r.PropertyLabel,
			"source":          r.SourceRaw,
			"external_code":   r.ExternalCode,
			"external_status": r.ExternalStatus,
			"check_in":        r.CheckIn.Format(time.RFC3339),
			"check_out":       r.CheckOut.Format(time.RFC3339),
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(b)
}

// dedupKey identifies an exact duplicate within one import pass: same code,
// source, property, guest and dates. Rows with the same key after the first
// are skipped silently.
func (r *NormalizedRow) dedupKey(propertyId int, source models.BookingSource) string {
	return strings.ToLower(strings.Join([]string{
		fmt.Sprintf("%d", propertyId),
		string(source),
		strings.TrimSpace(r.ExternalCode),
		strings.Join(strings.Fields(r.GuestName), " "),
		utils.ToDate(r.CheckIn).Format("2006-01-02"),
		utils.ToDate(r.CheckOut).Format("2006-01-02"),
	}, "|"))
}
