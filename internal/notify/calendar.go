package notify

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const icsStamp = "20060102T150405Z"

// Event is a calendar entry for one consultation.
type Event struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
}

// CalendarLinks are "add to calendar" deep links for the major providers.
type CalendarLinks struct {
	Google  string `json:"google"`
	Outlook string `json:"outlook"`
	Yahoo   string `json:"yahoo"`
}

// BuildLinks renders the deep links for ev.
func BuildLinks(ev Event) CalendarLinks {
	start := ev.Start.UTC().Format(icsStamp)
	end := ev.End.UTC().Format(icsStamp)
	summary := url.QueryEscape(ev.Summary)
	details := url.QueryEscape(ev.Description)
	location := url.QueryEscape(ev.Location)

	dur := ev.End.Sub(ev.Start)
	if dur <= 0 {
		dur = 30 * time.Minute
	}
	yahooDur := fmt.Sprintf("%02d%02d", int(dur.Hours()), int(dur.Minutes())%60)

	return CalendarLinks{
		Google: fmt.Sprintf("https://calendar.google.com/calendar/render?action=TEMPLATE&text=%s&dates=%s/%s&details=%s&location=%s",
			summary, start, end, details, location),
		Outlook: fmt.Sprintf("https://outlook.live.com/calendar/0/deeplink/compose?subject=%s&startdt=%s&enddt=%s&body=%s&location=%s",
			summary, url.QueryEscape(ev.Start.UTC().Format(time.RFC3339)), url.QueryEscape(ev.End.UTC().Format(time.RFC3339)), details, location),
		Yahoo: fmt.Sprintf("https://calendar.yahoo.com/?v=60&view=d&type=20&title=%s&st=%s&dur=%s&desc=%s&in_loc=%s",
			summary, start, yahooDur, details, location),
	}
}

// BuildICS renders a single-event iCalendar document.
func BuildICS(ev Event, stamp time.Time) string {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Clinic Booking//Consultations//EN",
		"METHOD:PUBLISH",
		"BEGIN:VEVENT",
		"UID:" + ev.UID,
		"DTSTAMP:" + stamp.UTC().Format(icsStamp),
		"DTSTART:" + ev.Start.UTC().Format(icsStamp),
		"DTEND:" + ev.End.UTC().Format(icsStamp),
		"SUMMARY:" + icsEscape(ev.Summary),
		"DESCRIPTION:" + icsEscape(ev.Description),
		"LOCATION:" + icsEscape(ev.Location),
		"END:VEVENT",
		"END:VCALENDAR",
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

var icsReplacer = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\n", `\n`)

func icsEscape(s string) string {
	return icsReplacer.Replace(s)
}
