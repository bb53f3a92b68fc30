package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-ai/internal/bookings"
)

const (
	replySystemError     = "I'm sorry, a system error occurred. Please try again in a few moments."
	replyResolverFailure = "I'm sorry, I'm having trouble understanding messages right now. Please try again in a few moments."
	replyStartOver       = "It looks like you were in the middle of a conversation. Let's start over. How can I help you today?"
	replyNotUnderstood   = "I'm sorry, I didn't understand that. You can type 'book appointment' to schedule, or 'reschedule' / 'cancel' to manage a booking."
	replyNothingToChoose = "There's nothing to choose from right now. Type 'book appointment' to see available times."
	replyNotBooked       = "Okay, I haven't booked that time. Type 'book appointment' whenever you'd like to pick another."
	replySlotTaken       = "Sorry, that time was just booked by someone else. Here are the next available times:"
	replyNoAppointment   = "That appointment is no longer active. Type 'book appointment' if you'd like to make a new booking."
	replyInviteFailed    = "(We couldn't send your calendar invite just now, but your appointment is confirmed.)"

	replyAskName      = "To create your patient profile, let's start with your full name."
	replyBadName      = "Please enter a valid full name (e.g., 'John Doe')."
	replyAskAge       = "Thanks, %s! How old are you?"
	replyBadAge       = "Please enter a valid age as a number (e.g., '35')."
	replyAskSex       = "Great. What is your sex? (e.g., Male, Female, Other)"
	replyBadSex       = "Please enter a valid option: Male, Female, or Other."
	replyAskEmail     = "Almost done! What is your email address? We'll use this for booking confirmations."
	replyBadEmail     = "That doesn't look like a valid email. Please try again."
	replyProfileReady = "Thank you! Your profile is complete. How can I help you today?\n\n- Type 'book appointment' to schedule a consultation.\n- Type 'reschedule' or 'cancel' to manage an existing booking."
)

const (
	layoutConfirmed = "Monday, January 02, 2006 at 03:04 PM MST"
	layoutListed    = "Monday, January 02 at 03:04 PM"
	layoutOffered   = "Mon, Jan 02 at 03:04 PM"
)

var keycaps = []string{"0️⃣", "1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣"}

func numberLabel(n int) string {
	if n > 0 && n < len(keycaps) {
		return keycaps[n]
	}
	return fmt.Sprintf("%d.", n)
}

func (m Machine) welcome() string {
	return fmt.Sprintf("Welcome to %s! %s", m.policy.ClinicName, replyAskName)
}

func (m Machine) greeting(s Session) string {
	return fmt.Sprintf("Hello, %s! How can I help? You can type 'book appointment' to schedule, or 'reschedule' / 'cancel' to manage a booking.", firstName(s.Profile.FullName))
}

func (m Machine) scopeReply() string {
	return fmt.Sprintf("I can help you book, reschedule, or cancel a consultation with %s. For medical questions, please ask during your visit. Type 'book appointment' to see available times.", m.policy.DoctorName)
}

func (m Machine) offerReply(preface string, slots []bookings.Slot, rescheduling bool) string {
	var b strings.Builder
	if preface != "" {
		b.WriteString(preface)
		b.WriteString("\n\n")
	} else if rescheduling {
		b.WriteString("Let's find a new time for your appointment. Here are the next available slots:\n\n")
	} else {
		fmt.Fprintf(&b, "Of course! Here are the next available consultation times with %s:\n\n", m.policy.DoctorName)
	}
	for i, slot := range slots {
		fmt.Fprintf(&b, "%s %s\n", numberLabel(i+1), m.local(slot.Start).Format(layoutOffered))
	}
	b.WriteString("\nReply with the number of the time you'd like.")
	return b.String()
}

func (m Machine) noSlotsReply(preface string) string {
	msg := "Sorry, there are no open consultation times right now. Please check back soon."
	if preface != "" {
		return preface + "\n\n" + msg
	}
	return msg
}

func (m Machine) slotHint(n int) string {
	return fmt.Sprintf("Please reply with a number between 1 and %d to pick a time, or say 'hi' to start over.", n)
}

func (m Machine) confirmPrompt(slot OfferedSlot) string {
	return fmt.Sprintf("You picked %s. Reply YES to confirm or NO to choose again.", m.local(slot.Start).Format(layoutListed))
}

func (m Machine) confirmHint(slot OfferedSlot) string {
	return fmt.Sprintf("Please reply YES to confirm %s, or NO to leave it.", m.local(slot.Start).Format(layoutListed))
}

func (m Machine) confirmedReply(appt bookings.Appointment, rescheduled bool) string {
	doctor := appt.Doctor
	if doctor == "" {
		doctor = m.policy.DoctorName
	}
	head := "✅ Confirmed!\n\nYour consultation with %s is scheduled for:\n*%s*"
	if rescheduled {
		head = "✅ Rescheduled!\n\nYour consultation with %s is now scheduled for:\n*%s*"
	}
	return fmt.Sprintf(head, doctor, m.local(appt.Time).Format(layoutConfirmed))
}

func (m Machine) calendarReply(ref string) string {
	return "📅 *Add to Calendar:*\n" + ref
}

func (m Machine) appointmentList(action AppointmentAction, appts []bookings.Appointment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You have the following appointments. Which one would you like to %s?\n\n", action)
	for i, appt := range appts {
		fmt.Fprintf(&b, "%s %s\n", numberLabel(i+1), m.local(appt.Time).Format(layoutListed))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Machine) noAppointments(action AppointmentAction) string {
	if action == ActionReschedule {
		return "You have no upcoming appointments to reschedule. Would you like to book a new one?"
	}
	return "You have no upcoming appointments to cancel."
}

func (m Machine) appointmentHint(action AppointmentAction, n int) string {
	return fmt.Sprintf("That's not a valid number. Please reply with a number between 1 and %d for the appointment to %s.", n, action)
}

func (m Machine) cancelledReply(appt bookings.Appointment) string {
	return fmt.Sprintf("Your appointment on %s has been successfully cancelled.", m.local(appt.Time).Format(layoutListed))
}

func (m Machine) local(t time.Time) time.Time {
	return t.In(m.policy.Location)
}

func firstName(full string) string {
	if f := strings.Fields(full); len(f) > 0 {
		return f[0]
	}
	return "there"
}

// SystemErrorReply is the apology returned when an inbound message could not be processed at all.
const SystemErrorReply = replySystemError
