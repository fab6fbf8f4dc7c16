package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/hostfolio/propops_backend/config"
)

// importLockTTL must outlast the longest plausible pass; the lock is
// released explicitly as soon as the pass finishes.
const importLockTTL = 5 * time.Minute

var ErrorImportInProgress = errors.New("another import is already running for this business")

// AcquireImportLock serializes import passes per business across instances.
// Imports mutate the booking store row by row; two interleaved passes over
// the same business would race each other's matching queries. Without redis
// configured the lock degrades to a no-op (single-instance deployments and
// tests).
func AcquireImportLock(ctx context.Context, businessId string) (release func(), err error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}, nil
	}

	lock, err := locker.Obtain(ctx, fmt.Sprintf("import:%s", businessId), importLockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrorImportInProgress
	}
	if err != nil {
		return nil, err
	}
	return func() { _ = lock.Release(ctx) }, nil
}
