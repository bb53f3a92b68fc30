package patients

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"whatsapp:+919812345678": "+919812345678",
		" +1 (555) 010-2000 ":    "+15550102000",
		"15550102000":            "+15550102000",
		"sms:+447700900123":      "+447700900123",
		"whatsapp:":              "",
		"":                       "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInMemoryRepository_FindOrCreateIsStable(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	first, err := repo.FindOrCreate(ctx, "whatsapp:+919812345678")
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if first.Onboarded {
		t.Fatalf("new patient should not be onboarded")
	}
	second, err := repo.FindOrCreate(ctx, "+919812345678")
	if err != nil {
		t.Fatalf("FindOrCreate again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same patient, got %s and %s", first.ID, second.ID)
	}

	if _, err := repo.FindOrCreate(ctx, "whatsapp:"); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("expected ErrInvalidPhone, got %v", err)
	}
}

func TestInMemoryRepository_SaveProfile(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	p, _ := repo.FindOrCreate(ctx, "+15550102000")

	profile := Profile{FullName: "Asha Verma", Age: 34, Gender: "Female", Email: "asha@example.com"}
	saved, err := repo.SaveProfile(ctx, p.ID, profile, true)
	if err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if !saved.Onboarded || saved.FullName != "Asha Verma" || saved.FirstName() != "Asha" {
		t.Fatalf("unexpected patient %+v", saved)
	}

	again, err := repo.SaveProfile(ctx, p.ID, profile, false)
	if err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if !again.Onboarded {
		t.Fatalf("onboarded flag must not be cleared")
	}

	if _, err := repo.SaveProfile(ctx, uuid.New(), profile, true); !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
	if _, err := repo.Get(ctx, uuid.New()); !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestProfileComplete(t *testing.T) {
	if (Profile{FullName: "A B", Age: 20, Gender: "Male"}).Complete() {
		t.Fatalf("profile without email should be incomplete")
	}
	if !(Profile{FullName: "A B", Age: 20, Gender: "Male", Email: "a@b.co"}).Complete() {
		t.Fatalf("full profile should be complete")
	}
	if got := (Patient{}).FirstName(); got != "there" {
		t.Fatalf("FirstName() = %q", got)
	}
}
