package conversation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-ai/internal/bookings"
	"github.com/wolfman30/clinic-booking-ai/internal/intent"
)

// Policy carries the clinic-specific knobs of the dialogue.
type Policy struct {
	ClinicName          string
	DoctorName          string
	Location            *time.Location
	OfferLimit          int
	OfferWindow         time.Duration
	RequireConfirmation bool
	MinConfidence       float64
}

// Decision is the result of one transition or settle step.
type Decision struct {
	Next    Session
	Reply   string
	Effects []Effect
}

// Machine is the pure dialogue transition function. It performs no I/O.
type Machine struct {
	policy Policy
}

// NewMachine applies defaults to the policy.
func NewMachine(p Policy) Machine {
	if p.ClinicName == "" {
		p.ClinicName = "our clinic"
	}
	if p.DoctorName == "" {
		p.DoctorName = "the doctor"
	}
	if p.Location == nil {
		p.Location = time.UTC
	}
	if p.OfferLimit <= 0 {
		p.OfferLimit = 5
	}
	if p.OfferWindow <= 0 {
		p.OfferWindow = 14 * 24 * time.Hour
	}
	return Machine{policy: p}
}

// Policy returns the effective policy.
func (m Machine) Policy() Policy { return m.policy }

// NeedsIntent reports whether the message should go through the resolver.
// Onboarding is gated and reads the raw text.
func (m Machine) NeedsIntent(s Session) bool {
	switch s.State.(type) {
	case StateNew, StateOnboarding:
		return s.Onboarded
	default:
		return true
	}
}

var emailRE = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Transition computes the next session, reply and effects for one message.
// res is ignored while NeedsIntent is false.
func (m Machine) Transition(s Session, text string, res intent.Result) Decision {
	text = strings.TrimSpace(text)

	switch st := s.State.(type) {
	case StateNew:
		if s.Onboarded {
			return m.onboarded(s.withState(StateIdle{}), text, res)
		}
		return Decision{Next: s.withState(StateOnboarding{Step: StepName}), Reply: m.welcome()}
	case StateOnboarding:
		if s.Onboarded {
			return m.onboarded(s.withState(StateIdle{}), text, res)
		}
		return m.onboard(s, st, text)
	case StateIdle, StateAwaitingSlotChoice, StateAwaitingConfirmation, StateAwaitingAppointmentChoice:
		return m.onboarded(s, text, res)
	default:
		panic(fmt.Sprintf("conversation: unhandled state %T", st))
	}
}

func (m Machine) onboard(s Session, st StateOnboarding, text string) Decision {
	next := s
	switch st.Step {
	case StepName:
		if !validFullName(text) {
			return Decision{Next: s, Reply: replyBadName}
		}
		next.Profile.FullName = strings.Join(strings.Fields(text), " ")
		return Decision{Next: next.withState(StateOnboarding{Step: StepAge}), Reply: fmt.Sprintf(replyAskAge, firstName(text))}
	case StepAge:
		age, err := strconv.Atoi(text)
		if err != nil || age < 1 || age > 120 {
			return Decision{Next: s, Reply: replyBadAge}
		}
		next.Profile.Age = age
		return Decision{Next: next.withState(StateOnboarding{Step: StepSex}), Reply: replyAskSex}
	case StepSex:
		sex := strings.ToLower(text)
		if sex != "male" && sex != "female" && sex != "other" {
			return Decision{Next: s, Reply: replyBadSex}
		}
		next.Profile.Gender = strings.ToUpper(sex[:1]) + sex[1:]
		return Decision{Next: next.withState(StateOnboarding{Step: StepEmail}), Reply: replyAskEmail}
	case StepEmail:
		if !emailRE.MatchString(text) {
			return Decision{Next: s, Reply: replyBadEmail}
		}
		next.Profile.Email = text
		next.Onboarded = true
		return Decision{Next: next.withState(StateIdle{}), Reply: replyProfileReady}
	default:
		return Decision{Next: s.withState(StateOnboarding{Step: StepName}), Reply: replyAskName}
	}
}

// onboarded handles every state after onboarding. Global intents (greeting
// reset, cancel, reschedule, book) take precedence over the state's own input.
func (m Machine) onboarded(s Session, text string, res intent.Result) Decision {
	kind := res.Kind
	if res.Confidence < m.policy.MinConfidence && kind != intent.KindSelectSlot {
		kind = intent.KindUnknown
	}
	_, idle := s.State.(StateIdle)

	switch kind {
	case intent.KindGreeting:
		if idle {
			return Decision{Next: s, Reply: m.greeting(s)}
		}
		return Decision{Next: s.withState(StateIdle{}), Reply: replyStartOver}
	case intent.KindCancel:
		return Decision{Next: s, Effects: []Effect{ListAppointments{Action: ActionCancel}}}
	case intent.KindReschedule:
		return Decision{Next: s, Effects: []Effect{ListAppointments{Action: ActionReschedule}}}
	case intent.KindBook:
		if st, ok := s.State.(StateAwaitingSlotChoice); ok {
			return Decision{Next: s, Effects: []Effect{OfferSlots{Rescheduling: st.Rescheduling}}}
		}
		return Decision{Next: s, Effects: []Effect{OfferSlots{}}}
	}

	switch st := s.State.(type) {
	case StateIdle:
		switch kind {
		case intent.KindSelectSlot:
			return Decision{Next: s, Reply: replyNothingToChoose}
		case intent.KindSmalltalk:
			return Decision{Next: s, Reply: m.scopeReply()}
		default:
			return Decision{Next: s, Reply: replyNotUnderstood}
		}
	case StateAwaitingSlotChoice:
		n, ok := pickNumber(text, res)
		if !ok || n < 1 || n > len(st.Offer) {
			return Decision{Next: s, Reply: m.slotHint(len(st.Offer))}
		}
		slot := st.Offer[n-1]
		if m.policy.RequireConfirmation {
			return Decision{
				Next:  s.withState(StateAwaitingConfirmation{Slot: slot, Rescheduling: st.Rescheduling}),
				Reply: m.confirmPrompt(slot),
			}
		}
		return Decision{Next: s, Effects: []Effect{bookEffect(slot, st.Rescheduling)}}
	case StateAwaitingConfirmation:
		switch yesNo(text) {
		case answerYes:
			return Decision{Next: s, Effects: []Effect{bookEffect(st.Slot, st.Rescheduling)}}
		case answerNo:
			return Decision{Next: s.withState(StateIdle{}), Reply: replyNotBooked}
		default:
			return Decision{Next: s, Reply: m.confirmHint(st.Slot)}
		}
	case StateAwaitingAppointmentChoice:
		n, ok := pickNumber(text, res)
		if !ok || n < 1 || n > len(st.Appointments) {
			return Decision{Next: s, Reply: m.appointmentHint(st.Action, len(st.Appointments))}
		}
		picked := st.Appointments[n-1]
		if st.Action == ActionReschedule {
			return Decision{Next: s, Effects: []Effect{OfferSlots{Rescheduling: picked.ID}}}
		}
		return Decision{Next: s, Effects: []Effect{CancelAppointment{AppointmentID: picked.ID}}}
	default:
		panic(fmt.Sprintf("conversation: unhandled state %T", st))
	}
}

// Settle folds an effect's outcome into the session. The returned reply is
// appended to what the patient has been told so far; returned effects run next.
func (m Machine) Settle(s Session, effect Effect, out Outcome) Decision {
	switch e := effect.(type) {
	case OfferSlots:
		if out.Err != nil {
			return Decision{Next: s, Reply: replySystemError}
		}
		if len(out.Slots) == 0 {
			return Decision{Next: s.withState(StateIdle{}), Reply: m.noSlotsReply(e.Preface)}
		}
		offer := make([]OfferedSlot, len(out.Slots))
		for i, slot := range out.Slots {
			offer[i] = OfferedSlot{ID: slot.ID, Start: slot.Start}
		}
		return Decision{
			Next:  s.withState(StateAwaitingSlotChoice{Offer: offer, Rescheduling: e.Rescheduling}),
			Reply: m.offerReply(e.Preface, out.Slots, e.Rescheduling != uuid.Nil),
		}

	case ReserveSlot:
		return m.settleBooking(s, out, false, OfferSlots{Preface: replySlotTaken})

	case RescheduleAppointment:
		if errors.Is(out.Err, bookings.ErrAppointmentNotFound) {
			return Decision{Next: s.withState(StateIdle{}), Reply: replyNoAppointment}
		}
		return m.settleBooking(s, out, true, OfferSlots{Rescheduling: e.AppointmentID, Preface: replySlotTaken})

	case CancelAppointment:
		switch {
		case out.Err == nil:
			return Decision{Next: s.withState(StateIdle{}), Reply: m.cancelledReply(out.Appointment)}
		case errors.Is(out.Err, bookings.ErrAppointmentNotFound):
			return Decision{Next: s.withState(StateIdle{}), Reply: replyNoAppointment}
		default:
			return Decision{Next: s, Reply: replySystemError}
		}

	case ListAppointments:
		if out.Err != nil {
			return Decision{Next: s, Reply: replySystemError}
		}
		if len(out.Appointments) == 0 {
			return Decision{Next: s.withState(StateIdle{}), Reply: m.noAppointments(e.Action)}
		}
		listed := make([]OfferedAppointment, len(out.Appointments))
		for i, appt := range out.Appointments {
			listed[i] = OfferedAppointment{ID: appt.ID, Time: appt.Time}
		}
		return Decision{
			Next:  s.withState(StateAwaitingAppointmentChoice{Action: e.Action, Appointments: listed}),
			Reply: m.appointmentList(e.Action, out.Appointments),
		}

	case NotifyCalendar:
		switch {
		case out.CalendarRef == "":
			return Decision{Next: s, Reply: replyInviteFailed}
		case out.Err != nil:
			return Decision{Next: s, Reply: m.calendarReply(out.CalendarRef) + "\n\n" + replyInviteFailed}
		default:
			return Decision{Next: s, Reply: m.calendarReply(out.CalendarRef)}
		}

	default:
		panic(fmt.Sprintf("conversation: unhandled effect %T", effect))
	}
}

func (m Machine) settleBooking(s Session, out Outcome, rescheduled bool, retry OfferSlots) Decision {
	switch {
	case out.Err == nil:
		return Decision{
			Next:    s.withState(StateIdle{}),
			Reply:   m.confirmedReply(out.Appointment, rescheduled),
			Effects: []Effect{NotifyCalendar{Appointment: out.Appointment}},
		}
	case errors.Is(out.Err, bookings.ErrSlotUnavailable), errors.Is(out.Err, bookings.ErrSlotNotFound):
		return Decision{Next: s, Effects: []Effect{retry}}
	default:
		return Decision{Next: s, Reply: replySystemError}
	}
}

func bookEffect(slot OfferedSlot, rescheduling uuid.UUID) Effect {
	if rescheduling != uuid.Nil {
		return RescheduleAppointment{AppointmentID: rescheduling, Slot: slot}
	}
	return ReserveSlot{Slot: slot}
}

func (s Session) withState(st State) Session {
	s.State = st
	return s
}

func validFullName(name string) bool {
	parts := strings.Fields(name)
	if len(parts) < 2 {
		return false
	}
	for _, part := range parts {
		for _, r := range part {
			if !unicode.IsLetter(r) {
				return false
			}
		}
	}
	return true
}

// pickNumber prefers the resolver's choice and falls back to a bare number.
func pickNumber(text string, res intent.Result) (int, bool) {
	if res.Kind == intent.KindSelectSlot && res.Choice > 0 {
		return res.Choice, true
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(text), "."))
	if err != nil {
		return 0, false
	}
	return n, true
}

type answer int

const (
	answerOther answer = iota
	answerYes
	answerNo
)

func yesNo(text string) answer {
	switch strings.Trim(strings.ToLower(text), " .!") {
	case "yes", "y", "yeah", "yep", "confirm", "ok", "okay", "sure", "haan":
		return answerYes
	case "no", "n", "nope", "nah":
		return answerNo
	default:
		return answerOther
	}
}
