package patients

import (
	"errors"
	"fmt"
)

var (
	// ErrPatientNotFound is returned when no patient matches the lookup.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrInvalidPhone is returned when an address cannot be normalized.
	ErrInvalidPhone = errors.New("phone number is required")

	// ErrStoreUnavailable is returned when patient persistence fails.
	ErrStoreUnavailable = errors.New("patient store unavailable")
)

func storeErr(op string, err error) error {
	return fmt.Errorf("patients: %s: %w", op, errors.Join(ErrStoreUnavailable, err))
}
