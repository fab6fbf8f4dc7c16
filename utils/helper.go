package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

var CountryCode = "US"

func IsValidEmail(email string) bool {
	// Basic email validation regex pattern
	pattern := `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	regex := regexp.MustCompile(pattern)
	return regex.MatchString(email)
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err // Phone number is invalid
	}

	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}

	return nil // Phone number is valid for the specified country code
}

// ValidateGuestContact accepts an email address or a phone number.
// Empty contact is fine; many platform exports omit it.
func ValidateGuestContact(contact string) error {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return nil
	}
	if strings.Contains(contact, "@") {
		if !IsValidEmail(contact) {
			return fmt.Errorf("guest contact %q is not a valid email", contact)
		}
		return nil
	}
	return ValidatePhoneNumber(contact, CountryCode)
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// safely dereference pointer of type T, nil pointer return zero value or optional default
func DereferencePtr[T any](ptr *T, defaults ...T) T {
	var defaultValue T
	if len(defaults) > 0 {
		defaultValue = defaults[0]
	}
	if ptr == nil {
		return defaultValue
	}
	return *ptr
}

func NilIfEmpty[T comparable](ptr T) *T {
	var defaultZero T
	if ptr == defaultZero {
		return nil
	}
	return &ptr
}

func ParseDecimal(value string) (decimal.Decimal, error) {
	// Remove any whitespace and check for empty strings
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}

	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}

	return dec, nil
}

// ToDate truncates a timestamp to its calendar date in UTC. Stay dates from
// different exports carry arbitrary times of day; comparisons use dates only.
func ToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func SameDate(a, b time.Time) bool {
	return ToDate(a).Equal(ToDate(b))
}

// DateRangesOverlap reports whether [aStart,aEnd) and [bStart,bEnd) share at
// least one night. Checkout day does not count as an occupied night.
func DateRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return ToDate(aStart).Before(ToDate(bEnd)) && ToDate(bStart).Before(ToDate(aEnd))
}

// NightsBetween derives the night count of a stay, never below one.
func NightsBetween(checkIn, checkOut time.Time) int {
	n := int(ToDate(checkOut).Sub(ToDate(checkIn)).Hours() / 24)
	if n < 1 {
		return 1
	}
	return n
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]struct{}, len(slice))
	out := make([]T, 0, len(slice))
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
