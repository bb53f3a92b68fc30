package conversation

import (
	"time"

	"github.com/google/uuid"
)

// StateKind names a session state on the wire and in metrics.
type StateKind string

const (
	KindNew                       StateKind = "new"
	KindOnboarding                StateKind = "onboarding"
	KindIdle                      StateKind = "idle"
	KindAwaitingSlotChoice        StateKind = "awaiting_slot_choice"
	KindAwaitingConfirmation      StateKind = "awaiting_confirmation"
	KindAwaitingAppointmentChoice StateKind = "awaiting_appointment_choice"
)

// State is the sealed set of dialogue states. Only types in this package
// implement it.
type State interface {
	Kind() StateKind
	isState()
}

// OnboardingStep is the profile field currently being collected.
type OnboardingStep string

const (
	StepName  OnboardingStep = "name"
	StepAge   OnboardingStep = "age"
	StepSex   OnboardingStep = "sex"
	StepEmail OnboardingStep = "email"
)

// AppointmentAction is what happens to the appointment the patient picks.
type AppointmentAction string

const (
	ActionCancel     AppointmentAction = "cancel"
	ActionReschedule AppointmentAction = "reschedule"
)

// OfferedSlot is one line of a numbered offer. The order of the slice holding
// it is the order shown to the patient.
type OfferedSlot struct {
	ID    uuid.UUID `json:"id"`
	Start time.Time `json:"start"`
}

// OfferedAppointment is one line of a numbered appointment list.
type OfferedAppointment struct {
	ID   uuid.UUID `json:"id"`
	Time time.Time `json:"time"`
}

type StateNew struct{}

type StateOnboarding struct {
	Step OnboardingStep `json:"step"`
}

type StateIdle struct{}

type StateAwaitingSlotChoice struct {
	Offer []OfferedSlot `json:"offer"`
	// Rescheduling is the appointment being moved, or uuid.Nil for a new booking.
	Rescheduling uuid.UUID `json:"rescheduling"`
}

type StateAwaitingConfirmation struct {
	Slot         OfferedSlot `json:"slot"`
	Rescheduling uuid.UUID   `json:"rescheduling"`
}

type StateAwaitingAppointmentChoice struct {
	Action       AppointmentAction    `json:"action"`
	Appointments []OfferedAppointment `json:"appointments"`
}

func (StateNew) Kind() StateKind                       { return KindNew }
func (StateOnboarding) Kind() StateKind                { return KindOnboarding }
func (StateIdle) Kind() StateKind                      { return KindIdle }
func (StateAwaitingSlotChoice) Kind() StateKind        { return KindAwaitingSlotChoice }
func (StateAwaitingConfirmation) Kind() StateKind      { return KindAwaitingConfirmation }
func (StateAwaitingAppointmentChoice) Kind() StateKind { return KindAwaitingAppointmentChoice }

func (StateNew) isState()                       {}
func (StateOnboarding) isState()                {}
func (StateIdle) isState()                      {}
func (StateAwaitingSlotChoice) isState()        {}
func (StateAwaitingConfirmation) isState()      {}
func (StateAwaitingAppointmentChoice) isState() {}

// SlotIDs returns the offered slot ids in display order.
func (s StateAwaitingSlotChoice) SlotIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(s.Offer))
	for i, o := range s.Offer {
		ids[i] = o.ID
	}
	return ids
}
