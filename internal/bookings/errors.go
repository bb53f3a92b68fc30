package bookings

import (
	"errors"
	"fmt"
)

var (
	// ErrSlotNotFound indicates the slot id does not exist.
	ErrSlotNotFound = errors.New("bookings: slot not found")
	// ErrSlotUnavailable indicates the slot is already reserved (a lost race).
	ErrSlotUnavailable = errors.New("bookings: slot unavailable")
	// ErrAppointmentNotFound indicates the appointment is absent or already cancelled.
	ErrAppointmentNotFound = errors.New("bookings: appointment not found")
	// ErrStoreUnavailable wraps infrastructure failures of the backing store.
	ErrStoreUnavailable = errors.New("bookings: store unavailable")
)

func storeErr(op string, err error) error {
	return fmt.Errorf("bookings: %s: %w", op, errors.Join(ErrStoreUnavailable, err))
}
