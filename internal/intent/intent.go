// Package intent classifies free-form patient messages into booking intents.
package intent

import (
	"context"
	"errors"
)

// Kind enumerates the intents the dialogue understands.
type Kind string

const (
	KindBook       Kind = "book"
	KindCancel     Kind = "cancel"
	KindReschedule Kind = "reschedule"
	KindSelectSlot Kind = "select_slot"
	KindGreeting   Kind = "greeting"
	KindSmalltalk  Kind = "smalltalk"
	KindUnknown    Kind = "unknown"
)

// ErrResolutionFailed is returned when no resolver could classify a message.
var ErrResolutionFailed = errors.New("intent: resolution failed")

// Result is a classified message.
type Result struct {
	Kind Kind `json:"intent"`
	// Choice is the 1-based number picked by the patient, or 0.
	Choice     int               `json:"choice,omitempty"`
	Confidence float64           `json:"confidence"`
	Fields     map[string]string `json:"fields,omitempty"`
	// Source names the resolver that produced the result.
	Source string `json:"-"`
}

// SessionContext tells the resolver where in the dialogue the message arrived.
type SessionContext struct {
	State      string
	Onboarded  bool
	OptionsLen int
	FirstName  string
}

// Resolver classifies one message.
type Resolver interface {
	Resolve(ctx context.Context, text string, sc SessionContext) (Result, error)
}

// ParseKind maps loose labels, including the older request_* names, onto a Kind.
func ParseKind(label string) Kind {
	switch normalizeLabel(label) {
	case "book", "booking", "request_booking", "book_appointment":
		return KindBook
	case "cancel", "cancellation", "request_cancellation":
		return KindCancel
	case "reschedule", "request_reschedule":
		return KindReschedule
	case "select_slot", "select_choice", "choice":
		return KindSelectSlot
	case "greeting", "hello":
		return KindGreeting
	case "smalltalk", "question", "dermatology_query", "faq":
		return KindSmalltalk
	default:
		return KindUnknown
	}
}
