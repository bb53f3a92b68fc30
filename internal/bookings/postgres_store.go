package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var bookingsTracer = otel.Tracer("clinic.internal.bookings")

const uniqueViolation = "23505"

// DB is the subset of pgxpool.Pool used by the store; pgxmock satisfies it in tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const appointmentColumns = `id, patient_id, slot_id, doctor_name, appointment_time, end_time, status,
	COALESCE(calendar_ref, ''), COALESCE(rescheduled_from::text, ''), created_at, updated_at`

const releaseSlotSQL = `UPDATE slots SET reserved = false, updated_at = now() WHERE id = $1 AND reserved = true`

// PostgresStore implements Store on Postgres.
type PostgresStore struct {
	db  DB
	now func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store backed by a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) *PostgresStore {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return newPostgresStoreWithDB(pool, opts...)
}

func newPostgresStoreWithDB(db DB, opts ...Option) *PostgresStore {
	if db == nil {
		panic("bookings: db required")
	}
	o := applyOptions(opts)
	return &PostgresStore{db: db, now: o.now}
}

// ListAvailable returns unreserved future slots in the window ordered by start.
func (s *PostgresStore) ListAvailable(ctx context.Context, windowStart, windowEnd time.Time, limit int) ([]Slot, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.list_available")
	defer span.End()

	windowStart, limit = clampWindow(s.now(), windowStart, limit)
	if !windowEnd.After(windowStart) {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, doctor_name, start_at, end_at, reserved
		FROM slots
		WHERE reserved = false
		  AND start_at >= $1
		  AND start_at < $2
		ORDER BY start_at ASC, id ASC
		LIMIT $3
	`, windowStart, windowEnd, limit)
	if err != nil {
		span.RecordError(err)
		return nil, storeErr("list available", err)
	}
	defer rows.Close()

	var slots []Slot
	for rows.Next() {
		var slot Slot
		if err := rows.Scan(&slot.ID, &slot.Doctor, &slot.Start, &slot.End, &slot.Reserved); err != nil {
			return nil, storeErr("scan slot", err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate slots", err)
	}
	span.SetAttributes(attribute.Int("clinic.slots_returned", len(slots)))
	return slots, nil
}

// Reserve claims the slot and records the confirmed appointment in one transaction.
func (s *PostgresStore) Reserve(ctx context.Context, slotID, patientID uuid.UUID) (Appointment, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.slot_id", slotID.String()),
		attribute.String("clinic.patient_id", patientID.String()),
	)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return Appointment{}, storeErr("reserve: begin tx", err)
	}
	defer tx.Rollback(ctx)

	slot, err := claimSlot(ctx, tx, slotID)
	if err != nil {
		span.RecordError(err)
		return Appointment{}, err
	}
	appt, err := recordConfirmed(ctx, tx, patientID, slot, uuid.Nil, s.now())
	if err != nil {
		span.RecordError(err)
		return Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return Appointment{}, storeErr("reserve: commit", err)
	}
	span.SetAttributes(attribute.String("clinic.appointment_id", appt.ID.String()))
	return appt, nil
}

// Release marks the slot unreserved. Releasing a free or unknown slot is a no-op.
func (s *PostgresStore) Release(ctx context.Context, slotID uuid.UUID) error {
	ctx, span := bookingsTracer.Start(ctx, "bookings.release")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.slot_id", slotID.String()))

	if _, err := s.db.Exec(ctx, releaseSlotSQL, slotID); err != nil {
		span.RecordError(err)
		return storeErr("release", err)
	}
	return nil
}

// Cancel marks the appointment cancelled and frees its slot atomically.
func (s *PostgresStore) Cancel(ctx context.Context, appointmentID uuid.UUID) (Appointment, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", appointmentID.String()))

	tx, err := s.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return Appointment{}, storeErr("cancel: begin tx", err)
	}
	defer tx.Rollback(ctx)

	appt, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled', updated_at = $2
		WHERE id = $1 AND status <> 'cancelled'
		RETURNING `+appointmentColumns, appointmentID, s.now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, ErrAppointmentNotFound
		}
		span.RecordError(err)
		return Appointment{}, storeErr("cancel: update appointment", err)
	}
	if _, err := tx.Exec(ctx, releaseSlotSQL, appt.SlotID); err != nil {
		span.RecordError(err)
		return Appointment{}, storeErr("cancel: release slot", err)
	}
	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return Appointment{}, storeErr("cancel: commit", err)
	}
	return appt, nil
}

// Reschedule moves an appointment to a new slot. The new slot is claimed
// before the original is touched, so a lost race leaves the original intact.
func (s *PostgresStore) Reschedule(ctx context.Context, appointmentID, newSlotID uuid.UUID) (Appointment, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.reschedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.appointment_id", appointmentID.String()),
		attribute.String("clinic.slot_id", newSlotID.String()),
	)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return Appointment{}, storeErr("reschedule: begin tx", err)
	}
	defer tx.Rollback(ctx)

	var patientID, oldSlotID uuid.UUID
	var status string
	err = tx.QueryRow(ctx, `
		SELECT patient_id, slot_id, status
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, appointmentID).Scan(&patientID, &oldSlotID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, ErrAppointmentNotFound
		}
		span.RecordError(err)
		return Appointment{}, storeErr("reschedule: load appointment", err)
	}
	if Status(status) == StatusCancelled {
		return Appointment{}, ErrAppointmentNotFound
	}

	slot, err := claimSlot(ctx, tx, newSlotID)
	if err != nil {
		span.RecordError(err)
		return Appointment{}, err
	}
	now := s.now()
	appt, err := recordConfirmed(ctx, tx, patientID, slot, appointmentID, now)
	if err != nil {
		span.RecordError(err)
		return Appointment{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE appointments SET status = 'cancelled', updated_at = $2 WHERE id = $1`, appointmentID, now); err != nil {
		span.RecordError(err)
		return Appointment{}, storeErr("reschedule: cancel original", err)
	}
	if _, err := tx.Exec(ctx, releaseSlotSQL, oldSlotID); err != nil {
		span.RecordError(err)
		return Appointment{}, storeErr("reschedule: release original slot", err)
	}
	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return Appointment{}, storeErr("reschedule: commit", err)
	}
	return appt, nil
}

// ListUpcoming returns the patient's confirmed appointments at or after now.
func (s *PostgresStore) ListUpcoming(ctx context.Context, patientID uuid.UUID, now time.Time) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND status = 'confirmed'
		  AND appointment_time >= $2
		ORDER BY appointment_time ASC
	`, patientID, now)
	if err != nil {
		return nil, storeErr("list upcoming", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, storeErr("scan appointment", err)
		}
		out = append(out, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate appointments", err)
	}
	return out, nil
}

// Get loads one appointment regardless of status.
func (s *PostgresStore) Get(ctx context.Context, appointmentID uuid.UUID) (Appointment, error) {
	appt, err := scanAppointment(s.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, appointmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, ErrAppointmentNotFound
		}
		return Appointment{}, storeErr("get appointment", err)
	}
	return appt, nil
}

// AttachCalendarRef stores the external calendar reference on the appointment.
func (s *PostgresStore) AttachCalendarRef(ctx context.Context, appointmentID uuid.UUID, ref string) error {
	ct, err := s.db.Exec(ctx, `UPDATE appointments SET calendar_ref = $2, updated_at = now() WHERE id = $1`, appointmentID, ref)
	if err != nil {
		return storeErr("attach calendar ref", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// Seed inserts slots, skipping ones that already exist for the same doctor and start.
func (s *PostgresStore) Seed(ctx context.Context, slots []Slot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, storeErr("seed: begin tx", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, slot := range slots {
		if slot.ID == uuid.Nil {
			slot.ID = uuid.New()
		}
		ct, err := tx.Exec(ctx, `
			INSERT INTO slots (id, doctor_name, start_at, end_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (doctor_name, start_at) DO NOTHING
		`, slot.ID, slot.Doctor, slot.Start, slot.End)
		if err != nil {
			return 0, storeErr("seed: insert slot", err)
		}
		inserted += int(ct.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, storeErr("seed: commit", err)
	}
	return inserted, nil
}

// claimSlot performs the conditional update at the heart of the reservation
// protocol. Only a caller that observes reserved=false gets a row back.
func claimSlot(ctx context.Context, q querier, slotID uuid.UUID) (Slot, error) {
	slot := Slot{ID: slotID, Reserved: true}
	err := q.QueryRow(ctx, `
		UPDATE slots
		SET reserved = true, updated_at = now()
		WHERE id = $1 AND reserved = false
		RETURNING doctor_name, start_at, end_at
	`, slotID).Scan(&slot.Doctor, &slot.Start, &slot.End)
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Slot{}, storeErr("claim slot", err)
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM slots WHERE id = $1)`, slotID).Scan(&exists); err != nil {
		return Slot{}, storeErr("check slot", err)
	}
	if !exists {
		return Slot{}, ErrSlotNotFound
	}
	return Slot{}, ErrSlotUnavailable
}

// recordConfirmed inserts the appointment row. It must only run inside the
// transaction that claimed the slot.
func recordConfirmed(ctx context.Context, q querier, patientID uuid.UUID, slot Slot, previous uuid.UUID, now time.Time) (Appointment, error) {
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
	var rescheduledFrom *uuid.UUID
	if previous != uuid.Nil {
		rescheduledFrom = &previous
	}
	_, err := q.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, slot_id, doctor_name, appointment_time, end_time, status, rescheduled_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, appt.ID, patientID, slot.ID, slot.Doctor, slot.Start, slot.End, string(StatusConfirmed), rescheduledFrom, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Appointment{}, ErrSlotUnavailable
		}
		return Appointment{}, storeErr("record confirmed", err)
	}
	return appt, nil
}

func scanAppointment(row pgx.Row) (Appointment, error) {
	var appt Appointment
	var status, previous string
	if err := row.Scan(
		&appt.ID,
		&appt.PatientID,
		&appt.SlotID,
		&appt.Doctor,
		&appt.Time,
		&appt.EndTime,
		&status,
		&appt.CalendarRef,
		&previous,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	); err != nil {
		return Appointment{}, err
	}
	appt.Status = Status(status)
	if previous != "" {
		id, err := uuid.Parse(previous)
		if err != nil {
			return Appointment{}, fmt.Errorf("bookings: parse rescheduled_from: %w", err)
		}
		appt.RescheduledFrom = id
	}
	return appt, nil
}
