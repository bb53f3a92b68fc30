package notify

import (
	"strings"
	"testing"
	"time"
)

func TestBuildLinks(t *testing.T) {
	start := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)
	links := BuildLinks(Event{
		Summary:  "Consultation: Asha with Dr. Mishra",
		Location: "Main Clinic, Floor 2",
		Start:    start,
		End:      start.Add(30 * time.Minute),
	})

	if !strings.HasPrefix(links.Google, "https://calendar.google.com/calendar/render?action=TEMPLATE") {
		t.Fatalf("unexpected google link %s", links.Google)
	}
	if !strings.Contains(links.Google, "dates=20260304T093000Z/20260304T100000Z") {
		t.Errorf("google link missing dates: %s", links.Google)
	}
	if !strings.Contains(links.Google, "text=Consultation%3A+Asha+with+Dr.+Mishra") {
		t.Errorf("google link summary not escaped: %s", links.Google)
	}
	if !strings.Contains(links.Yahoo, "dur=0030") {
		t.Errorf("yahoo link missing duration: %s", links.Yahoo)
	}
	if !strings.Contains(links.Outlook, "startdt=2026-03-04T09%3A30%3A00Z") {
		t.Errorf("outlook link missing start: %s", links.Outlook)
	}
}

func TestBuildICS(t *testing.T) {
	start := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)
	ics := BuildICS(Event{
		UID:      "abc@clinic-booking",
		Summary:  "Consultation",
		Location: "Floor 2, Main Clinic",
		Start:    start,
		End:      start.Add(30 * time.Minute),
	}, start.Add(-time.Hour))

	for _, want := range []string{
		"BEGIN:VCALENDAR\r\n",
		"UID:abc@clinic-booking\r\n",
		"DTSTAMP:20260304T083000Z\r\n",
		"DTSTART:20260304T093000Z\r\n",
		"DTEND:20260304T100000Z\r\n",
		"LOCATION:Floor 2\\, Main Clinic\r\n",
		"END:VCALENDAR\r\n",
	} {
		if !strings.Contains(ics, want) {
			t.Errorf("ics missing %q:\n%s", want, ics)
		}
	}
}
