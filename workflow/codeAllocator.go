package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/hostfolio/propops_backend/config"
	"github.com/hostfolio/propops_backend/models"
	"github.com/hostfolio/propops_backend/utils"
	"gorm.io/gorm"
)

// codeCollisionCap bounds the deterministic " #N" suffix walk. Past the cap
// the allocator falls back to a timestamp suffix instead of looping forever.
const codeCollisionCap = 50

const syntheticCodeLength = 8

const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// sourceCodePrefix seeds synthesized codes so a human can tell at a glance
// which channel a code was minted for.
var sourceCodePrefix = map[models.BookingSource]string{
	models.BookingSourceAirbnb:     "HM",
	models.BookingSourceVrbo:       "VR",
	models.BookingSourceBookingCom: "BK",
	models.BookingSourceExpedia:    "EX",
	models.BookingSourceDirect:     "DIR",
	models.BookingSourceOwner:      "OWN",
}

// AllocateBookingCode returns a code that is unique within (property, source),
// and only within that scope; the same raw code under another property or
// source is not a collision. An empty proposal gets a synthesized code; a
// taken proposal gets a deterministic " #2", " #3", ... suffix up to the cap.
func AllocateBookingCode(ctx context.Context, tx *gorm.DB, propertyId int, source models.BookingSource, proposed string) (string, error) {
	proposed = strings.TrimSpace(proposed)

	if proposed == "" {
		return synthesizeCode(ctx, tx, propertyId, source)
	}

	taken, err := codeTaken(ctx, tx, propertyId, source, proposed)
	if err != nil {
		return "", err
	}
	if !taken {
		return proposed, nil
	}

	for n := 2; n <= codeCollisionCap; n++ {
		candidate := suffixedCode(proposed, n)
		taken, err := codeTaken(ctx, tx, propertyId, source, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	// Allocation exhausted. A timestamp suffix is guaranteed unique in
	// practice and keeps the row importable.
	fallback := fmt.Sprintf("%s-%d", proposed, time.Now().UnixNano())
	config.LogError(config.GetLogger(), "codeAllocator.go", "AllocateBookingCode",
		"suffix cap reached, falling back to timestamp code", proposed,
		errors.New("code allocation exhausted"))
	return fallback, nil
}

func suffixedCode(base string, n int) string {
	return fmt.Sprintf("%s #%d", base, n)
}

func synthesizeCode(ctx context.Context, tx *gorm.DB, propertyId int, source models.BookingSource) (string, error) {
	prefix := sourceCodePrefix[source]
	if prefix == "" {
		prefix = "BKG"
	}

	for attempt := 0; attempt < codeCollisionCap; attempt++ {
		candidate := prefix + randomCodeSuffix(syntheticCodeLength)
		taken, err := codeTaken(ctx, tx, propertyId, source, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano()), nil
}

func randomCodeSuffix(length int) string {
	var sb strings.Builder
	for i := 0; i < length; i++ {
		sb.WriteByte(codeAlphabet[rand.Intn(len(codeAlphabet))])
	}
	return sb.String()
}

func codeTaken(ctx context.Context, tx *gorm.DB, propertyId int, source models.BookingSource, code string) (bool, error) {
	_, err := models.FindBookingByScopedCode(ctx, tx, propertyId, source, code)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return false, nil
	}
	return false, err
}
