package conversation

import (
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-ai/internal/bookings"
)

// Effect is the sealed set of side effects a transition may request. The
// orchestrator executes them; the machine never touches a store.
type Effect interface {
	effectName() string
}

// OfferSlots lists available slots and presents them as a numbered offer.
type OfferSlots struct {
	Rescheduling uuid.UUID
	// Preface is prepended to the offer, e.g. after a lost race.
	Preface string
}

// ReserveSlot books the slot for the session's patient.
type ReserveSlot struct {
	Slot OfferedSlot
}

// RescheduleAppointment moves an appointment onto a new slot.
type RescheduleAppointment struct {
	AppointmentID uuid.UUID
	Slot          OfferedSlot
}

// CancelAppointment cancels an appointment and frees its slot.
type CancelAppointment struct {
	AppointmentID uuid.UUID
}

// ListAppointments fetches upcoming appointments for a cancel or reschedule choice.
type ListAppointments struct {
	Action AppointmentAction
}

// NotifyCalendar sends the calendar invitation for a confirmed appointment.
type NotifyCalendar struct {
	Appointment bookings.Appointment
}

func (OfferSlots) effectName() string            { return "offer_slots" }
func (ReserveSlot) effectName() string           { return "reserve_slot" }
func (RescheduleAppointment) effectName() string { return "reschedule_appointment" }
func (CancelAppointment) effectName() string     { return "cancel_appointment" }
func (ListAppointments) effectName() string      { return "list_appointments" }
func (NotifyCalendar) effectName() string        { return "notify_calendar" }

// EffectName returns a stable label for logs and metrics.
func EffectName(e Effect) string {
	if e == nil {
		return "none"
	}
	return e.effectName()
}

// Outcome is what happened when an effect ran.
type Outcome struct {
	Slots        []bookings.Slot
	Appointment  bookings.Appointment
	Appointments []bookings.Appointment
	CalendarRef  string
	Err          error
}
