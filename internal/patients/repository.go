package patients

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines patient storage.
type Repository interface {
	// FindOrCreate returns the patient for the phone, creating one on first contact.
	FindOrCreate(ctx context.Context, phone string) (Patient, error)
	Get(ctx context.Context, id uuid.UUID) (Patient, error)
	// SaveProfile stores onboarding fields. onboarded marks onboarding complete.
	SaveProfile(ctx context.Context, id uuid.UUID, profile Profile, onboarded bool) (Patient, error)
}

// InMemoryRepository keeps patients in a map.
type InMemoryRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]Patient
	byPhone map[string]uuid.UUID
}

var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byID:    make(map[uuid.UUID]Patient),
		byPhone: make(map[string]uuid.UUID),
	}
}

func (r *InMemoryRepository) FindOrCreate(ctx context.Context, phone string) (Patient, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return Patient{}, ErrInvalidPhone
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byPhone[phone]; ok {
		return r.byID[id], nil
	}
	now := time.Now().UTC()
	p := Patient{ID: uuid.New(), Phone: phone, CreatedAt: now, UpdatedAt: now}
	r.byID[p.ID] = p
	r.byPhone[phone] = p.ID
	return p, nil
}

func (r *InMemoryRepository) Get(ctx context.Context, id uuid.UUID) (Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return Patient{}, ErrPatientNotFound
	}
	return p, nil
}

func (r *InMemoryRepository) SaveProfile(ctx context.Context, id uuid.UUID, profile Profile, onboarded bool) (Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return Patient{}, ErrPatientNotFound
	}
	p.FullName = profile.FullName
	p.Age = profile.Age
	p.Gender = profile.Gender
	p.Email = profile.Email
	p.Onboarded = p.Onboarded || onboarded
	p.UpdatedAt = time.Now().UTC()
	r.byID[id] = p
	return p, nil
}
