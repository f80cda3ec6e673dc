package appointment

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// maxDurationMinutes bounds a single appointment to one calendar day. No
// working window can be longer.
const maxDurationMinutes = 24 * 60

const (
	maxChiefComplaintLen = 1000
	maxSymptomsLen       = 2000
)

// validateStart applies the booking time rules shared by booking and
// rescheduling: strictly in the future, inside one working window with room
// for the whole duration, and on a slot boundary counted from that window's
// opening time.
func validateStart(cal Calendar, d *Doctor, start time.Time, durationMinutes int, now time.Time) error {
	if durationMinutes <= 0 || durationMinutes > maxDurationMinutes {
		return ErrInvalidDuration
	}
	if !start.After(now) {
		return ErrStartInPast
	}

	duration := time.Duration(durationMinutes) * time.Minute
	windows := cal.WindowsFor(d)

	var window *WorkingWindow
	for i := range windows {
		open := windows[i].Start.On(start, cal.Location)
		closing := windows[i].End.On(start, cal.Location)
		if !start.Before(open) && !start.Add(duration).After(closing) {
			window = &windows[i]
			break
		}
	}
	if window == nil {
		return fmt.Errorf("%w (%s)", ErrOutsideHours, describeWindows(windows))
	}

	if d.SlotDurationMinutes <= 0 {
		return fmt.Errorf("%w: doctor has no slot duration configured", ErrMisaligned)
	}
	offset := start.Sub(window.Start.On(start, cal.Location))
	if offset%d.SlotDuration() != 0 {
		return fmt.Errorf("%w: start must fall on a %d-minute boundary from %s",
			ErrMisaligned, d.SlotDurationMinutes, window.Start)
	}

	return nil
}

func describeWindows(windows []WorkingWindow) string {
	if len(windows) == 0 {
		return "no working hours"
	}
	parts := make([]string, len(windows))
	for i, w := range windows {
		parts[i] = w.String()
	}
	return strings.Join(parts, ", ")
}

// validateNotes bounds the free-text fields of a booking, counted in characters.
func validateNotes(chiefComplaint, symptoms string) error {
	if utf8.RuneCountInString(chiefComplaint) > maxChiefComplaintLen {
		return fmt.Errorf("%w: chief complaint is limited to %d characters", ErrTextTooLong, maxChiefComplaintLen)
	}
	if utf8.RuneCountInString(symptoms) > maxSymptomsLen {
		return fmt.Errorf("%w: symptoms are limited to %d characters", ErrTextTooLong, maxSymptomsLen)
	}
	return nil
}
