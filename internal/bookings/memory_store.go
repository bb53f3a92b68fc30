package bookings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for development and tests. A single
// mutex plays the role of the database's row lock on the reserved flag.
type MemoryStore struct {
	mu           sync.Mutex
	slots        map[uuid.UUID]Slot
	appointments map[uuid.UUID]Appointment
	now          func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := applyOptions(opts)
	return &MemoryStore{
		slots:        make(map[uuid.UUID]Slot),
		appointments: make(map[uuid.UUID]Appointment),
		now:          o.now,
	}
}

func (m *MemoryStore) ListAvailable(_ context.Context, windowStart, windowEnd time.Time, limit int) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	windowStart, limit = clampWindow(m.now(), windowStart, limit)
	var out []Slot
	for _, slot := range m.slots {
		if slot.Reserved || slot.Start.Before(windowStart) || !slot.Start.Before(windowEnd) {
			continue
		}
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].Start.Before(out[j].Start)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Reserve(_ context.Context, slotID, patientID uuid.UUID) (Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.claimLocked(slotID)
	if err != nil {
		return Appointment{}, err
	}
	return m.recordLocked(patientID, slot, uuid.Nil), nil
}

func (m *MemoryStore) Release(_ context.Context, slotID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.releaseLocked(slotID)
	return nil
}

func (m *MemoryStore) Cancel(_ context.Context, appointmentID uuid.UUID) (Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	appt, ok := m.appointments[appointmentID]
	if !ok || !appt.Active() {
		return Appointment{}, ErrAppointmentNotFound
	}
	appt.Status = StatusCancelled
	appt.UpdatedAt = m.now()
	m.appointments[appointmentID] = appt
	m.releaseLocked(appt.SlotID)
	return appt, nil
}

func (m *MemoryStore) Reschedule(_ context.Context, appointmentID, newSlotID uuid.UUID) (Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.appointments[appointmentID]
	if !ok || !original.Active() {
		return Appointment{}, ErrAppointmentNotFound
	}
	slot, err := m.claimLocked(newSlotID)
	if err != nil {
		return Appointment{}, err
	}
	appt := m.recordLocked(original.PatientID, slot, appointmentID)
	original.Status = StatusCancelled
	original.UpdatedAt = appt.CreatedAt
	m.appointments[appointmentID] = original
	m.releaseLocked(original.SlotID)
	return appt, nil
}

func (m *MemoryStore) ListUpcoming(_ context.Context, patientID uuid.UUID, now time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, appt := range m.appointments {
		if appt.PatientID == patientID && appt.Status == StatusConfirmed && !appt.Time.Before(now) {
			out = append(out, appt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, appointmentID uuid.UUID) (Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	appt, ok := m.appointments[appointmentID]
	if !ok {
		return Appointment{}, ErrAppointmentNotFound
	}
	return appt, nil
}

func (m *MemoryStore) AttachCalendarRef(_ context.Context, appointmentID uuid.UUID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	appt, ok := m.appointments[appointmentID]
	if !ok {
		return ErrAppointmentNotFound
	}
	appt.CalendarRef = ref
	appt.UpdatedAt = m.now()
	m.appointments[appointmentID] = appt
	return nil
}

func (m *MemoryStore) Seed(_ context.Context, slots []Slot) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	taken := make(map[string]bool, len(m.slots))
	for _, slot := range m.slots {
		taken[seedKey(slot)] = true
	}
	inserted := 0
	for _, slot := range slots {
		if taken[seedKey(slot)] {
			continue
		}
		if slot.ID == uuid.Nil {
			slot.ID = uuid.New()
		}
		slot.Reserved = false
		m.slots[slot.ID] = slot
		taken[seedKey(slot)] = true
		inserted++
	}
	return inserted, nil
}

// Slot returns a copy of the slot for inspection.
func (m *MemoryStore) Slot(id uuid.UUID) (Slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	return slot, ok
}

// Appointments returns every appointment referencing the slot.
func (m *MemoryStore) Appointments(slotID uuid.UUID) []Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, appt := range m.appointments {
		if appt.SlotID == slotID {
			out = append(out, appt)
		}
	}
	return out
}

func (m *MemoryStore) claimLocked(slotID uuid.UUID) (Slot, error) {
	slot, ok := m.slots[slotID]
	if !ok {
		return Slot{}, ErrSlotNotFound
	}
	if slot.Reserved {
		return Slot{}, ErrSlotUnavailable
	}
	slot.Reserved = true
	m.slots[slotID] = slot
	return slot, nil
}

func (m *MemoryStore) recordLocked(patientID uuid.UUID, slot Slot, previous uuid.UUID) Appointment {
	now := m.now()
	appt := Appointment{
		ID:              uuid.New(),
		PatientID:       patientID,
		SlotID:          slot.ID,
		Doctor:          slot.Doctor,
		Time:            slot.Start,
		EndTime:         slot.End,
		Status:          StatusConfirmed,
		RescheduledFrom: previous,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.appointments[appt.ID] = appt
	return appt
}

func (m *MemoryStore) releaseLocked(slotID uuid.UUID) {
	slot, ok := m.slots[slotID]
	if !ok {
		return
	}
	slot.Reserved = false
	m.slots[slotID] = slot
}

func seedKey(slot Slot) string {
	return slot.Doctor + "|" + slot.Start.UTC().Format(time.RFC3339Nano)
}
