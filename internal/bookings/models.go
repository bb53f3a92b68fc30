package bookings

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

// Slot is a fixed bookable interval for the clinic's doctor.
type Slot struct {
	ID       uuid.UUID `json:"id"`
	Doctor   string    `json:"doctor"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Reserved bool      `json:"reserved"`
}

// Offerable reports whether the slot may be shown to a patient at now.
func (s Slot) Offerable(now time.Time) bool {
	return !s.Reserved && s.Start.After(now)
}

// Appointment is one booking event. Time, EndTime and Doctor are copied from
// the slot when the appointment is created so history survives slot changes.
type Appointment struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	SlotID          uuid.UUID `json:"slot_id"`
	Doctor          string    `json:"doctor"`
	Time            time.Time `json:"appointment_time"`
	EndTime         time.Time `json:"end_time"`
	Status          Status    `json:"status"`
	CalendarRef     string    `json:"calendar_ref,omitempty"`
	RescheduledFrom uuid.UUID `json:"rescheduled_from,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Active reports whether the appointment still holds its slot.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}
