package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

// Confirmation describes a booked consultation to announce.
type Confirmation struct {
	AppointmentID uuid.UUID
	PatientName   string
	PatientEmail  string
	Doctor        string
	Start         time.Time
	End           time.Time
}

// Notifier creates the calendar invitation for a confirmed appointment and
// returns a reference to it.
type Notifier interface {
	Notify(ctx context.Context, c Confirmation) (string, error)
}

// CalendarNotifierConfig holds clinic details shown in the invitation.
type CalendarNotifierConfig struct {
	ClinicName string
	Location   string
	TimeZone   *time.Location
}

// CalendarNotifier builds calendar links and an ICS invite, emails the patient
// and optionally publishes the ICS.
type CalendarNotifier struct {
	email     EmailSender
	publisher ICSPublisher
	cfg       CalendarNotifierConfig
	logger    *logging.Logger
	now       func() time.Time
}

var _ Notifier = (*CalendarNotifier)(nil)

// NewCalendarNotifier wires the notifier. email and publisher may be nil.
func NewCalendarNotifier(email EmailSender, publisher ICSPublisher, cfg CalendarNotifierConfig, logger *logging.Logger) *CalendarNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.TimeZone == nil {
		cfg.TimeZone = time.UTC
	}
	return &CalendarNotifier{email: email, publisher: publisher, cfg: cfg, logger: logger, now: time.Now}
}

// Notify returns the Google Calendar link as the reference. Email failure is
// reported as ErrNotificationFailed; a failed ICS upload only degrades the email.
func (n *CalendarNotifier) Notify(ctx context.Context, c Confirmation) (string, error) {
	ev := n.event(c)
	links := BuildLinks(ev)
	ics := BuildICS(ev, n.now())

	var icsURL string
	if n.publisher != nil {
		url, err := n.publisher.Publish(ctx, "invites/"+c.AppointmentID.String()+".ics", ics)
		if err != nil {
			n.logger.Warn("notify: invite upload failed", "error", err, "appointment_id", c.AppointmentID)
		} else {
			icsURL = url
		}
	}

	if n.email != nil && strings.TrimSpace(c.PatientEmail) != "" {
		msg := EmailMessage{
			To:      c.PatientEmail,
			ToName:  c.PatientName,
			Subject: fmt.Sprintf("Appointment confirmed: %s", c.Start.In(n.cfg.TimeZone).Format("Mon, Jan 2 at 3:04 PM")),
			Body:    n.emailBody(c, links, icsURL),
			ICS:     ics,
		}
		if err := n.email.Send(ctx, msg); err != nil {
			return links.Google, fmt.Errorf("%w: %w", ErrNotificationFailed, err)
		}
	}
	return links.Google, nil
}

func (n *CalendarNotifier) event(c Confirmation) Event {
	name := c.PatientName
	if name == "" {
		name = "Patient"
	}
	clinic := n.cfg.ClinicName
	if clinic == "" {
		clinic = "the clinic"
	}
	return Event{
		UID:         c.AppointmentID.String() + "@clinic-booking",
		Summary:     fmt.Sprintf("Consultation: %s with %s", name, c.Doctor),
		Description: fmt.Sprintf("Consultation with %s at %s.", c.Doctor, clinic),
		Location:    n.cfg.Location,
		Start:       c.Start,
		End:         c.End,
	}
}

func (n *CalendarNotifier) emailBody(c Confirmation, links CalendarLinks, icsURL string) string {
	local := c.Start.In(n.cfg.TimeZone)
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", firstWord(c.PatientName))
	fmt.Fprintf(&b, "Your consultation with %s is confirmed for %s.\n", c.Doctor, local.Format("Monday, January 2, 2006 at 03:04 PM MST"))
	if n.cfg.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", n.cfg.Location)
	}
	b.WriteString("\nAdd it to your calendar:\n")
	fmt.Fprintf(&b, "Google: %s\nOutlook: %s\nYahoo: %s\n", links.Google, links.Outlook, links.Yahoo)
	if icsURL != "" {
		fmt.Fprintf(&b, "Download invite: %s\n", icsURL)
	}
	return b.String()
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return "there"
}
