package deposits

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/angelmondragon/safetransit/pkg/db/models"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
	"github.com/angelmondragon/safetransit/pkg/metrics"
)

const maxPutAttempts = 3

// Mutation edits a deposit in place. Returning an error aborts the write.
type Mutation func(d *models.Deposit) error

// Update locks id, applies fn to a fresh copy and stores it. It returns the
// snapshots before and after the change.
func Update(ctx context.Context, store Store, locker *Locker, id uuid.UUID, fn Mutation) (*models.Deposit, *models.Deposit, error) {
	if locker != nil {
		unlock := locker.Lock(id)
		defer unlock()
	}
	return UpdateLocked(ctx, store, id, fn)
}

// UpdateLocked is Update for callers already holding the deposit lock. Version
// conflicts from other processes are retried with a fresh read.
func UpdateLocked(ctx context.Context, store Store, id uuid.UUID, fn Mutation) (*models.Deposit, *models.Deposit, error) {
	var lastErr error
	for attempt := 0; attempt < maxPutAttempts; attempt++ {
		current, err := Load(ctx, store, id)
		if err != nil {
			return nil, nil, err
		}
		next := current.Clone()
		if err := fn(next); err != nil {
			return current, nil, err
		}
		err = store.Put(ctx, next)
		if err == nil {
			return current, next, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return current, nil, storeError(err)
		}
		lastErr = err
	}
	return nil, nil, pkgerrors.Wrap(pkgerrors.CodeConflict, lastErr, "deposit was modified concurrently")
}

// Load reads a deposit and maps store misses onto NotFound.
func Load(ctx context.Context, store Store, id uuid.UUID) (*models.Deposit, error) {
	d, err := store.Get(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return d, nil
}

// ObserveTransition counts the fields that differ between two snapshots.
func ObserveTransition(m *metrics.DepositMetrics, before, after *models.Deposit) {
	if m == nil || before == nil || after == nil {
		return
	}
	if before.Status != after.Status {
		m.IncTransition("status", after.Status.String())
	}
	if before.PaymentStatus != after.PaymentStatus {
		m.IncTransition("payment_status", after.PaymentStatus.String())
	}
}

func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return pkgerrors.NotFound("deposit not found")
	case pkgerrors.As(err) != nil:
		return err
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deposit store failure")
	}
}
