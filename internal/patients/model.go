package patients

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Patient is a person who has messaged the clinic.
type Patient struct {
	ID        uuid.UUID `json:"id"`
	Phone     string    `json:"phone"`
	FullName  string    `json:"full_name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Age       int       `json:"age,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	Onboarded bool      `json:"onboarded"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FirstName returns the first word of the full name, or "there" when unknown.
func (p Patient) FirstName() string {
	fields := strings.Fields(p.FullName)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

// Profile holds the fields collected during onboarding.
type Profile struct {
	FullName string `json:"full_name,omitempty"`
	Age      int    `json:"age,omitempty"`
	Gender   string `json:"gender,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Complete reports whether every onboarding field is present.
func (p Profile) Complete() bool {
	return p.FullName != "" && p.Age > 0 && p.Gender != "" && p.Email != ""
}

// NormalizePhone strips channel prefixes and whitespace from an inbound address.
func NormalizePhone(address string) string {
	addr := strings.TrimSpace(address)
	if i := strings.Index(addr, ":"); i >= 0 {
		addr = addr[i+1:]
	}
	addr = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, addr)
	if addr == "" {
		return ""
	}
	if !strings.HasPrefix(addr, "+") {
		addr = "+" + addr
	}
	return addr
}
