package appointment

import (
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// HoursPolicy decides which working windows bound a doctor's day.
type HoursPolicy int

const (
	// HoursPerDoctor uses the doctor's own windows and falls back to the
	// default window when none are configured.
	HoursPerDoctor HoursPolicy = iota
	// HoursGlobal ignores per-doctor hours and always uses the default window.
	HoursGlobal
)

// Calendar resolves working windows and calendar days in the clinic's zone.
type Calendar struct {
	Location     *time.Location
	DefaultHours []WorkingWindow
	Policy       HoursPolicy
}

// DefaultCalendar is 09:00-21:00 UTC for every doctor without hours.
func DefaultCalendar() Calendar {
	return Calendar{
		Location:     time.UTC,
		DefaultHours: []WorkingWindow{{Session: "DAY", Start: Clock(9, 0), End: Clock(21, 0)}},
		Policy:       HoursPerDoctor,
	}
}

// WindowsFor returns the doctor's windows ordered by opening time.
func (c Calendar) WindowsFor(d *Doctor) []WorkingWindow {
	src := c.DefaultHours
	if c.Policy == HoursPerDoctor && len(d.WorkingHours) > 0 {
		src = d.WorkingHours
	}
	windows := make([]WorkingWindow, 0, len(src))
	for _, w := range src {
		if w.End > w.Start {
			windows = append(windows, w)
		}
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })
	return windows
}

// Day returns [00:00, 24:00) of the calendar day containing t.
func (c Calendar) Day(t time.Time) (time.Time, time.Time) {
	start := ClockTime(0).On(t, c.Location)
	return start, start.AddDate(0, 0, 1)
}

// ParseDate reads YYYY-MM-DD as a calendar day in the clinic's zone.
func (c Calendar) ParseDate(raw string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, raw, c.Location)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}

func (c Calendar) DateKey(t time.Time) string {
	return t.In(c.Location).Format(dateLayout)
}

// GenerateSlots lays out every slot of the doctor's day. Each window is
// walked from its opening time in steps of the slot duration until a full
// slot no longer fits. A slot is available when it starts strictly after now
// and no appointment in existing overlaps it. existing must only contain
// non-cancelled appointments.
func GenerateSlots(d *Doctor, windows []WorkingWindow, date time.Time, existing []Appointment, now time.Time, loc *time.Location) []Slot {
	if !d.IsAvailable || d.SlotDurationMinutes <= 0 {
		return []Slot{}
	}

	step := d.SlotDuration()
	slots := make([]Slot, 0)

	for _, w := range windows {
		open := w.Start.On(date, loc)
		closing := w.End.On(date, loc)

		for start := open; !start.Add(step).After(closing); start = start.Add(step) {
			end := start.Add(step)
			available := start.After(now)
			if available {
				for i := range existing {
					if Overlaps(existing[i].StartTime, existing[i].EndTime(), start, end) {
						available = false
						break
					}
				}
			}
			slots = append(slots, Slot{Start: start, End: end, Available: available, Session: w.Session})
		}
	}

	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots
}
