package patients

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const patientColumns = `id, phone, COALESCE(full_name, ''), COALESCE(email, ''), COALESCE(age, 0),
	COALESCE(gender, ''), onboarded, created_at, updated_at`

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores patients in the relational database.
type PostgresRepository struct {
	db queryRower
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("patients: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithDB(db queryRower) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindOrCreate upserts on the phone number. The no-op update makes RETURNING
// yield the existing row on conflict.
func (r *PostgresRepository) FindOrCreate(ctx context.Context, phone string) (Patient, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return Patient{}, ErrInvalidPhone
	}
	p, err := scanPatient(r.db.QueryRow(ctx, `
		INSERT INTO patients (id, phone)
		VALUES ($1, $2)
		ON CONFLICT (phone) DO UPDATE SET phone = EXCLUDED.phone
		RETURNING `+patientColumns, uuid.New(), phone))
	if err != nil {
		return Patient{}, storeErr("find or create", err)
	}
	return p, nil
}

// Get fetches a patient by id.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Patient, error) {
	p, err := scanPatient(r.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Patient{}, ErrPatientNotFound
		}
		return Patient{}, storeErr("get", err)
	}
	return p, nil
}

// SaveProfile writes onboarding fields; onboarded never flips back to false.
func (r *PostgresRepository) SaveProfile(ctx context.Context, id uuid.UUID, profile Profile, onboarded bool) (Patient, error) {
	p, err := scanPatient(r.db.QueryRow(ctx, `
		UPDATE patients
		SET full_name = NULLIF($2, ''),
		    age = NULLIF($3, 0),
		    gender = NULLIF($4, ''),
		    email = NULLIF($5, ''),
		    onboarded = onboarded OR $6,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+patientColumns,
		id, profile.FullName, profile.Age, profile.Gender, profile.Email, onboarded))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Patient{}, ErrPatientNotFound
		}
		return Patient{}, storeErr("save profile", err)
	}
	return p, nil
}

func scanPatient(row pgx.Row) (Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.Phone,
		&p.FullName,
		&p.Email,
		&p.Age,
		&p.Gender,
		&p.Onboarded,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}
