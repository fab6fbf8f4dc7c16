package models

import (
	"fmt"
	"strings"
)

type BookingSource string

const (
	BookingSourceAirbnb     BookingSource = "Airbnb"
	BookingSourceVrbo       BookingSource = "VRBO"
	BookingSourceBookingCom BookingSource = "Booking.com"
	BookingSourceExpedia    BookingSource = "Expedia"
	BookingSourceDirect     BookingSource = "Direct"
	BookingSourceOwner      BookingSource = "Owner"
)

// sourceTokenMap maps the raw source strings seen in cleaning schedule exports
// to canonical sources. Lookup is case-insensitive on the trimmed token.
// Unknown tokens fail loud at the row boundary instead of silently defaulting.
var sourceTokenMap = map[string]BookingSource{
	"airbnb":      BookingSourceAirbnb,
	"air bnb":     BookingSourceAirbnb,
	"vrbo":        BookingSourceVrbo,
	"homeaway":    BookingSourceVrbo,
	"booking.com": BookingSourceBookingCom,
	"booking":     BookingSourceBookingCom,
	"expedia":     BookingSourceExpedia,
	"direct":      BookingSourceDirect,
	"owner":       BookingSourceOwner,
}

func NormalizeBookingSource(raw string) (BookingSource, error) {
	token := strings.ToLower(strings.TrimSpace(raw))
	source, ok := sourceTokenMap[token]
	if !ok {
		return "", fmt.Errorf("unknown booking source %q", raw)
	}
	return source, nil
}

// IsPlatform reports whether the source is a third-party channel whose status
// feed is trusted for unattended status updates. Direct and Owner bookings are
// self-reported and never auto-mutated.
func (s BookingSource) IsPlatform() bool {
	switch s {
	case BookingSourceAirbnb, BookingSourceVrbo, BookingSourceBookingCom, BookingSourceExpedia:
		return true
	}
	return false
}

func (s BookingSource) IsDirectChannel() bool {
	return s == BookingSourceDirect || s == BookingSourceOwner
}

type BookingStatus string

const (
	BookingStatusBooked           BookingStatus = "booked"
	BookingStatusConfirmed        BookingStatus = "confirmed"
	BookingStatusCurrentlyHosting BookingStatus = "currently_hosting"
	BookingStatusOwnerStaying     BookingStatus = "owner_staying"
	BookingStatusCancelled        BookingStatus = "cancelled"
	BookingStatusCompleted        BookingStatus = "completed"
)

// statusToken maps a substring of an external status string to an internal
// status. Order matters: the first matching token wins, so more specific
// tokens sit before generic ones.
type statusToken struct {
	token  string
	status BookingStatus
}

var statusTokenTable = []statusToken{
	{"checking out", BookingStatusCurrentlyHosting},
	{"currently hosting", BookingStatusCurrentlyHosting},
	{"owner stay", BookingStatusOwnerStaying},
	{"cancelled", BookingStatusCancelled},
	{"canceled", BookingStatusCancelled},
	{"completed", BookingStatusCompleted},
	{"past guest", BookingStatusCompleted},
	{"confirmed", BookingStatusConfirmed},
	{"booked", BookingStatusBooked},
}

// MapExternalStatus maps a raw external status string to the internal enum.
// Unknown strings return ok=false; callers leave the current status unchanged
// (or default to confirmed on creation).
func MapExternalStatus(external string) (BookingStatus, bool) {
	needle := strings.ToLower(strings.TrimSpace(external))
	if needle == "" {
		return "", false
	}
	for _, entry := range statusTokenTable {
		if strings.Contains(needle, entry.token) {
			return entry.status, true
		}
	}
	return "", false
}

func init() {
	// The token tables are data, not code; a typo in either must fail the
	// process at startup rather than surface as a silent default mid-import.
	for token, source := range sourceTokenMap {
		if strings.TrimSpace(token) == "" || source == "" {
			panic(fmt.Sprintf("invalid source token mapping %q -> %q", token, source))
		}
		if token != strings.ToLower(token) {
			panic(fmt.Sprintf("source token %q must be lowercase", token))
		}
	}
	for _, entry := range statusTokenTable {
		if strings.TrimSpace(entry.token) == "" || entry.status == "" {
			panic(fmt.Sprintf("invalid status token mapping %q -> %q", entry.token, entry.status))
		}
		if entry.token != strings.ToLower(entry.token) {
			panic(fmt.Sprintf("status token %q must be lowercase", entry.token))
		}
	}
}

type ConflictType string

const (
	ConflictTypeDateChange      ConflictType = "date_change"
	ConflictTypeGuestChange     ConflictType = "guest_change"
	ConflictTypePropertyChange  ConflictType = "property_change"
	ConflictTypeStatusChange    ConflictType = "status_change"
	ConflictTypeDuplicateDirect ConflictType = "duplicate_direct"
)

type ResolutionAction string

const (
	ResolutionActionUpdateExisting ResolutionAction = "update_existing"
	ResolutionActionCreateNew      ResolutionAction = "create_new"
	ResolutionActionSkip           ResolutionAction = "skip"
)

func (a ResolutionAction) Valid() bool {
	switch a {
	case ResolutionActionUpdateExisting, ResolutionActionCreateNew, ResolutionActionSkip:
		return true
	}
	return false
}

type ImportSessionStatus string

const (
	ImportSessionStatusProcessing ImportSessionStatus = "processing"
	ImportSessionStatusCompleted  ImportSessionStatus = "completed"
	ImportSessionStatusFailed     ImportSessionStatus = "failed"
)

type AuditAction string

const (
	AuditActionCreate AuditAction = "create"
	AuditActionUpdate AuditAction = "update"
	AuditActionDelete AuditAction = "delete"
)
