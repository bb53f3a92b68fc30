package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-ai/internal/patients"
)

// sessionSchemaVersion is bumped whenever a state payload changes shape.
const sessionSchemaVersion = 1

// Session is the durable per-patient dialogue snapshot.
type Session struct {
	PatientID uuid.UUID
	Profile   patients.Profile
	Onboarded bool
	State     State
	// Version is the optimistic write version; zero means never saved.
	Version   int64
	UpdatedAt time.Time
}

// NewSession returns the initial snapshot for a patient.
func NewSession(p patients.Patient) Session {
	s := Session{
		PatientID: p.ID,
		Profile: patients.Profile{
			FullName: p.FullName,
			Age:      p.Age,
			Gender:   p.Gender,
			Email:    p.Email,
		},
		Onboarded: p.Onboarded,
		State:     StateNew{},
	}
	if p.Onboarded {
		s.State = StateIdle{}
	}
	return s
}

type sessionEnvelope struct {
	Schema int             `json:"schema"`
	Kind   StateKind       `json:"kind"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// EncodeState serializes a state into its versioned envelope.
func EncodeState(s State) ([]byte, error) {
	if s == nil {
		s = StateNew{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("conversation: encode state: %w", err)
	}
	return json.Marshal(sessionEnvelope{Schema: sessionSchemaVersion, Kind: s.Kind(), Data: data})
}

// DecodeState parses an envelope produced by EncodeState.
func DecodeState(raw []byte) (State, error) {
	if len(raw) == 0 {
		return StateNew{}, nil
	}
	var env sessionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("conversation: decode envelope: %w", err)
	}
	if env.Schema > sessionSchemaVersion {
		return nil, fmt.Errorf("%w: schema %d is newer than %d", ErrUnknownState, env.Schema, sessionSchemaVersion)
	}

	var st State
	var err error
	switch env.Kind {
	case KindNew:
		st = StateNew{}
	case KindIdle:
		st = StateIdle{}
	case KindOnboarding:
		st, err = decodeInto[StateOnboarding](env.Data)
	case KindAwaitingSlotChoice:
		st, err = decodeInto[StateAwaitingSlotChoice](env.Data)
	case KindAwaitingConfirmation:
		st, err = decodeInto[StateAwaitingConfirmation](env.Data)
	case KindAwaitingAppointmentChoice:
		st, err = decodeInto[StateAwaitingAppointmentChoice](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownState, env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: decode %s: %w", env.Kind, err)
	}
	return st, nil
}

func decodeInto[T State](data json.RawMessage) (State, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
