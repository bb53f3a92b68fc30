package bookings

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const defaultListLimit = 5

// Inventory owns the bookable slots and their reservation state.
//
// Reserve is the only way an appointment comes into existence. Implementations
// must claim the slot with a single conditional update (succeeds only if the
// slot was unreserved) and insert the appointment in the same transaction, so
// that concurrent reserves on one slot yield exactly one winner and every loser
// observes ErrSlotUnavailable. Callers must never rely on an earlier
// ListAvailable read for correctness.
type Inventory interface {
	ListAvailable(ctx context.Context, windowStart, windowEnd time.Time, limit int) ([]Slot, error)
	Reserve(ctx context.Context, slotID, patientID uuid.UUID) (Appointment, error)
	Release(ctx context.Context, slotID uuid.UUID) error
}

// Ledger records appointment lifecycle changes. Cancel releases the slot in
// the same transaction; Reschedule leaves the original untouched when the new
// slot cannot be reserved.
type Ledger interface {
	Cancel(ctx context.Context, appointmentID uuid.UUID) (Appointment, error)
	Reschedule(ctx context.Context, appointmentID, newSlotID uuid.UUID) (Appointment, error)
	ListUpcoming(ctx context.Context, patientID uuid.UUID, now time.Time) ([]Appointment, error)
	Get(ctx context.Context, appointmentID uuid.UUID) (Appointment, error)
	AttachCalendarRef(ctx context.Context, appointmentID uuid.UUID, ref string) error
}

// Seeder bulk-loads slots ahead of time. Slots that collide on (doctor, start)
// are skipped; the number of inserted slots is returned.
type Seeder interface {
	Seed(ctx context.Context, slots []Slot) (int, error)
}

// Store is the full booking persistence surface.
type Store interface {
	Inventory
	Ledger
	Seeder
}

// Option configures a store.
type Option func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock overrides the clock used for "now" (window clamping, timestamps).
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) storeOptions {
	o := storeOptions{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// clampWindow keeps past slots out of every listing and applies the default limit.
func clampWindow(now, windowStart time.Time, limit int) (time.Time, int) {
	if windowStart.Before(now) {
		windowStart = now
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return windowStart, limit
}
