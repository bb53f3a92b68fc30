package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-booking-ai/internal/patients"
)

// SessionStore persists dialogue state. Save succeeds only when the stored
// version still equals s.Version; otherwise it returns ErrSessionConflict.
type SessionStore interface {
	Load(ctx context.Context, p patients.Patient) (Session, error)
	Save(ctx context.Context, s Session) (Session, error)
}

// MemorySessionStore keeps encoded sessions in a map.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]storedSession
}

type storedSession struct {
	raw       []byte
	version   int64
	updatedAt time.Time
}

var _ SessionStore = (*MemorySessionStore)(nil)

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[uuid.UUID]storedSession)}
}

func (m *MemorySessionStore) Load(_ context.Context, p patients.Patient) (Session, error) {
	m.mu.Lock()
	rec, ok := m.sessions[p.ID]
	m.mu.Unlock()

	s := NewSession(p)
	if !ok {
		return s, nil
	}
	st, err := DecodeState(rec.raw)
	if err != nil {
		return Session{}, err
	}
	s.State = st
	s.Version = rec.version
	s.UpdatedAt = rec.updatedAt
	return s, nil
}

func (m *MemorySessionStore) Save(_ context.Context, s Session) (Session, error) {
	raw, err := EncodeState(s.State)
	if err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[s.PatientID]
	switch {
	case !ok && s.Version != 0, ok && current.version != s.Version:
		return Session{}, ErrSessionConflict
	}
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	m.sessions[s.PatientID] = storedSession{raw: raw, version: s.Version, updatedAt: s.UpdatedAt}
	return s, nil
}

type sessionDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSessionStore stores sessions in conversation_sessions.
type PostgresSessionStore struct {
	db sessionDB
}

var _ SessionStore = (*PostgresSessionStore)(nil)

func NewPostgresSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	if pool == nil {
		panic("conversation: pgx pool required")
	}
	return &PostgresSessionStore{db: pool}
}

func newPostgresSessionStoreWithDB(db sessionDB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

func (p *PostgresSessionStore) Load(ctx context.Context, patient patients.Patient) (Session, error) {
	s := NewSession(patient)

	var raw []byte
	var version int64
	var updatedAt time.Time
	err := p.db.QueryRow(ctx, `
		SELECT state, version, updated_at
		FROM conversation_sessions
		WHERE patient_id = $1
	`, patient.ID).Scan(&raw, &version, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, nil
		}
		return Session{}, fmt.Errorf("conversation: load session: %w", err)
	}

	st, err := DecodeState(raw)
	if err != nil {
		return Session{}, err
	}
	s.State = st
	s.Version = version
	s.UpdatedAt = updatedAt
	return s, nil
}

func (p *PostgresSessionStore) Save(ctx context.Context, s Session) (Session, error) {
	raw, err := EncodeState(s.State)
	if err != nil {
		return Session{}, err
	}

	var tag pgconn.CommandTag
	if s.Version == 0 {
		tag, err = p.db.Exec(ctx, `
			INSERT INTO conversation_sessions (patient_id, state, schema_version, version, updated_at)
			VALUES ($1, $2, $3, 1, now())
			ON CONFLICT (patient_id) DO NOTHING
		`, s.PatientID, raw, sessionSchemaVersion)
	} else {
		tag, err = p.db.Exec(ctx, `
			UPDATE conversation_sessions
			SET state = $2, schema_version = $3, version = version + 1, updated_at = now()
			WHERE patient_id = $1 AND version = $4
		`, s.PatientID, raw, sessionSchemaVersion, s.Version)
	}
	if err != nil {
		return Session{}, fmt.Errorf("conversation: save session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Session{}, ErrSessionConflict
	}
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	return s, nil
}
