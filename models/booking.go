package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hostfolio/propops_backend/config"
	"github.com/hostfolio/propops_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Booking is the canonical record a reconciliation pass merges spreadsheet
// rows into. It is created once on the first unambiguous row and only ever
// updated afterwards; deletion is an administrative action outside the engine.
type Booking struct {
	ID         int           `gorm:"primary_key" json:"id"`
	BusinessId string        `gorm:"index;not null" json:"business_id"`
	PropertyId int           `gorm:"not null;uniqueIndex:idx_booking_scope" json:"property_id"`
	Source     BookingSource `gorm:"size:20;not null;uniqueIndex:idx_booking_scope" json:"source"`

	// ExternalCode is unique only within (property, source); the same raw code
	// may legitimately appear under another property or another source.
	ExternalCode string `gorm:"size:100;uniqueIndex:idx_booking_scope" json:"external_code"`

	GuestName    string `gorm:"size:255;not null;index" json:"guest_name"`
	GuestContact string `gorm:"size:255" json:"guest_contact"`

	CheckIn  time.Time `gorm:"type:datetime;not null;index" json:"check_in"`
	CheckOut time.Time `gorm:"type:datetime;not null" json:"check_out"`
	Nights   int       `gorm:"not null" json:"nights"`

	ExternalStatus string        `gorm:"size:100" json:"external_status"`
	Status         BookingStatus `gorm:"size:30;not null;default:'confirmed'" json:"status"`

	EarningsAmount decimal.Decimal `gorm:"type:decimal(12,2)" json:"earnings_amount"`
	Adults         int             `json:"adults"`
	Children       int             `json:"children"`
	Infants        int             `json:"infants"`

	LastImportUpdate *time.Time `gorm:"type:datetime" json:"last_import_update,omitempty"`
	RawRow           string     `gorm:"type:text" json:"raw_row,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindBookingByScopedCode fetches the booking carrying code within the
// (property, source) scope, or utils.ErrorRecordNotFound.
func FindBookingByScopedCode(ctx context.Context, tx *gorm.DB, propertyId int, source BookingSource, code string) (*Booking, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, utils.ErrorRecordNotFound
	}

	var booking Booking
	err := tx.WithContext(ctx).
		Where("business_id = ? AND property_id = ? AND source = ? AND external_code = ?",
			businessId, propertyId, source, code).
		First(&booking).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// ListGuestBookings returns every booking for the property whose guest name
// matches case-insensitively. Candidates for the guest+date match ladder.
func ListGuestBookings(ctx context.Context, tx *gorm.DB, propertyId int, guestName string) ([]Booking, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var bookings []Booking
	err := tx.WithContext(ctx).
		Where("business_id = ? AND property_id = ? AND LOWER(guest_name) = ?",
			businessId, propertyId, strings.ToLower(strings.TrimSpace(guestName))).
		Order("check_in").
		Find(&bookings).Error
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

// ListOverlappingDirectBookings returns Direct/Owner bookings of the property
// whose stay overlaps [checkIn, checkOut). Used to flag ambiguous overlaps
// with self-reported bookings regardless of guest name.
func ListOverlappingDirectBookings(ctx context.Context, tx *gorm.DB, propertyId int, checkIn, checkOut time.Time) ([]Booking, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var bookings []Booking
	err := tx.WithContext(ctx).
		Where("business_id = ? AND property_id = ? AND source IN ? AND check_in < ? AND check_out > ?",
			businessId, propertyId,
			[]BookingSource{BookingSourceDirect, BookingSourceOwner},
			utils.ToDate(checkOut), utils.ToDate(checkIn)).
		Order("check_in").
		Find(&bookings).Error
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

// FindBookingBySourceCode looks a code up across all of the business's
// properties for one source. Used to spot a booking that moved between
// property labels; only meaningful when exactly one booking carries the code.
func FindBookingBySourceCode(ctx context.Context, tx *gorm.DB, source BookingSource, code string) (*Booking, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var bookings []Booking
	err := tx.WithContext(ctx).
		Where("business_id = ? AND source = ? AND external_code = ?", businessId, source, strings.TrimSpace(code)).
		Limit(2).
		Find(&bookings).Error
	if err != nil {
		return nil, err
	}
	if len(bookings) != 1 {
		return nil, utils.ErrorRecordNotFound
	}
	return &bookings[0], nil
}

func GetBooking(ctx context.Context, tx *gorm.DB, id int) (*Booking, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var booking Booking
	err := tx.WithContext(ctx).
		Where("business_id = ?", businessId).
		First(&booking, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func ListPropertyBookings(ctx context.Context, propertyId int) ([]Booking, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var bookings []Booking
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND property_id = ?", businessId, propertyId).
		Order("check_in").
		Find(&bookings).Error
	if err != nil {
		return nil, err
	}
	return bookings, nil
}
