package appointment

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSlotsFullDay(t *testing.T) {
	cal := DefaultCalendar()
	d := newDoctor()

	slots := GenerateSlots(d, cal.WindowsFor(d), tomorrowAt(0, 0), nil, testNow, cal.Location)
	require.Len(t, slots, 24)
	for i, s := range slots {
		assert.True(t, s.Available)
		assert.Equal(t, tomorrowAt(9, 0).Add(time.Duration(i)*30*time.Minute), s.Start)
		assert.Equal(t, 30*time.Minute, s.End.Sub(s.Start))
	}
	assert.Equal(t, tomorrowAt(21, 0), slots[23].End)
}

func TestGenerateSlotsDropsPartialTail(t *testing.T) {
	cal := DefaultCalendar()
	d := newDoctor()
	d.SlotDurationMinutes = 45

	slots := GenerateSlots(d, cal.WindowsFor(d), tomorrowAt(0, 0), nil, testNow, cal.Location)
	// 12 hours fit 16 slots of 45 minutes exactly
	require.Len(t, slots, 16)

	d.SlotDurationMinutes = 50
	slots = GenerateSlots(d, cal.WindowsFor(d), tomorrowAt(0, 0), nil, testNow, cal.Location)
	require.Len(t, slots, 14)
	assert.False(t, slots[13].End.After(tomorrowAt(21, 0)))
}

func TestGenerateSlotsPastAndTaken(t *testing.T) {
	cal := DefaultCalendar()
	d := newDoctor()
	now := tomorrowAt(12, 0)

	existing := []Appointment{
		{ID: uuid.New(), DoctorID: d.ID, StartTime: tomorrowAt(14, 0), DurationMinutes: 60, Status: StatusScheduled},
	}

	slots := GenerateSlots(d, cal.WindowsFor(d), tomorrowAt(0, 0), existing, now, cal.Location)
	require.Len(t, slots, 24)

	for _, s := range slots {
		switch {
		case !s.Start.After(now):
			assert.False(t, s.Available, "past slot %s", s.Start)
		case s.Start.Equal(tomorrowAt(14, 0)), s.Start.Equal(tomorrowAt(14, 30)):
			assert.False(t, s.Available, "taken slot %s", s.Start)
		default:
			assert.True(t, s.Available, "free slot %s", s.Start)
		}
	}
}

func TestGenerateSlotsUnavailableDoctor(t *testing.T) {
	cal := DefaultCalendar()
	d := newDoctor()
	d.IsAvailable = false
	assert.Empty(t, GenerateSlots(d, cal.WindowsFor(d), tomorrowAt(0, 0), nil, testNow, cal.Location))

	d.IsAvailable = true
	d.SlotDurationMinutes = 0
	assert.Empty(t, GenerateSlots(d, cal.WindowsFor(d), tomorrowAt(0, 0), nil, testNow, cal.Location))
}

func TestGenerateSlotsInClinicZone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	cal := DefaultCalendar()
	cal.Location = loc
	d := newDoctor()

	date, err := cal.ParseDate("2030-03-05")
	require.NoError(t, err)

	slots := GenerateSlots(d, cal.WindowsFor(d), date, nil, testNow, cal.Location)
	require.Len(t, slots, 24)
	assert.Equal(t, time.Date(2030, 3, 5, 9, 0, 0, 0, loc), slots[0].Start)
	assert.Equal(t, time.Date(2030, 3, 5, 3, 30, 0, 0, time.UTC), slots[0].Start.UTC())
}

func TestWindowsForOrdersAndFilters(t *testing.T) {
	cal := DefaultCalendar()
	d := newDoctor(
		WorkingWindow{Session: "EVENING", Start: Clock(15, 0), End: Clock(18, 0)},
		WorkingWindow{Session: "BROKEN", Start: Clock(12, 0), End: Clock(11, 0)},
		WorkingWindow{Session: "MORNING", Start: Clock(10, 0), End: Clock(13, 0)},
	)

	windows := cal.WindowsFor(d)
	require.Len(t, windows, 2)
	assert.Equal(t, "MORNING", windows[0].Session)
	assert.Equal(t, "EVENING", windows[1].Session)

	assert.Len(t, cal.WindowsFor(newDoctor()), 1)
}

func TestCalendarParseDate(t *testing.T) {
	cal := DefaultCalendar()

	d, err := cal.ParseDate("2030-03-05")
	require.NoError(t, err)
	assert.Equal(t, tomorrowAt(0, 0), d)
	assert.Equal(t, "2030-03-05", cal.DateKey(tomorrowAt(23, 30)))

	for _, raw := range []string{"", "05/03/2030", "2030-13-01", "2030-03-05T10:00:00Z"} {
		_, err := cal.ParseDate(raw)
		assert.ErrorIs(t, err, ErrInvalidDate, raw)
	}
}

func TestOverlapsHalfOpen(t *testing.T) {
	at := func(m int) time.Time { return tomorrowAt(10, 0).Add(time.Duration(m) * time.Minute) }

	assert.True(t, Overlaps(at(0), at(30), at(15), at(45)))
	assert.True(t, Overlaps(at(0), at(60), at(15), at(30)))
	assert.True(t, Overlaps(at(15), at(30), at(0), at(60)))
	assert.False(t, Overlaps(at(0), at(30), at(30), at(60)))
	assert.False(t, Overlaps(at(30), at(60), at(0), at(30)))
	assert.False(t, Overlaps(at(0), at(30), at(45), at(60)))
}

func TestClockTime(t *testing.T) {
	assert.Equal(t, "09:05", Clock(9, 5).String())
	assert.Equal(t, "24:00", Clock(24, 0).String())
	assert.Equal(t, tomorrowAt(13, 30), Clock(13, 30).On(tomorrowAt(2, 0), time.UTC))
}
