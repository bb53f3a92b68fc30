package bookings

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleTemplate describes the clinic's daily opening pattern.
type ScheduleTemplate struct {
	Doctor     string
	Location   *time.Location
	OpenHour   int
	CloseHour  int
	SlotLength time.Duration
	// Weekdays limits generation to the listed days; empty means every day.
	Weekdays []time.Weekday
}

// GenerateSlots lays out back-to-back slots for the next days starting on
// from's local date. Slots starting at or before from are skipped.
func GenerateSlots(tpl ScheduleTemplate, from time.Time, days int) []Slot {
	loc := tpl.Location
	if loc == nil {
		loc = time.UTC
	}
	if tpl.SlotLength <= 0 || tpl.CloseHour <= tpl.OpenHour || days <= 0 {
		return nil
	}
	open := make(map[time.Weekday]bool, len(tpl.Weekdays))
	for _, d := range tpl.Weekdays {
		open[d] = true
	}

	local := from.In(loc)
	first := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var slots []Slot
	for d := 0; d < days; d++ {
		day := first.AddDate(0, 0, d)
		if len(open) > 0 && !open[day.Weekday()] {
			continue
		}
		closeAt := time.Date(day.Year(), day.Month(), day.Day(), tpl.CloseHour, 0, 0, 0, loc)
		for start := time.Date(day.Year(), day.Month(), day.Day(), tpl.OpenHour, 0, 0, 0, loc); !start.Add(tpl.SlotLength).After(closeAt); start = start.Add(tpl.SlotLength) {
			if !start.After(from) {
				continue
			}
			slots = append(slots, Slot{
				ID:     uuid.New(),
				Doctor: tpl.Doctor,
				Start:  start.UTC(),
				End:    start.Add(tpl.SlotLength).UTC(),
			})
		}
	}
	return slots
}
