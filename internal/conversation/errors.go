package conversation

import "errors"

var (
	// ErrSessionConflict is returned when the session changed since it was loaded.
	ErrSessionConflict = errors.New("conversation: session version conflict")

	// ErrUnknownState is returned when a persisted state kind is not recognised.
	ErrUnknownState = errors.New("conversation: unknown session state")
)
