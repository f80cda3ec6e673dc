package appointment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateStartAlignmentFromWindowOpening(t *testing.T) {
	cal := DefaultCalendar()
	d := newDoctor(
		WorkingWindow{Session: "MORNING", Start: Clock(10, 15), End: Clock(13, 15)},
	)

	assert.NoError(t, validateStart(cal, d, tomorrowAt(10, 15), 30, testNow))
	assert.NoError(t, validateStart(cal, d, tomorrowAt(12, 45), 30, testNow))
	assert.ErrorIs(t, validateStart(cal, d, tomorrowAt(11, 0), 30, testNow), ErrMisaligned)
	assert.ErrorIs(t, validateStart(cal, d, tomorrowAt(13, 0), 30, testNow), ErrOutsideHours)
}

func TestValidateStartMessages(t *testing.T) {
	cal := DefaultCalendar()
	d := newDoctor()

	err := validateStart(cal, d, tomorrowAt(22, 0), 30, testNow)
	assert.ErrorIs(t, err, ErrOutsideHours)
	assert.Contains(t, err.Error(), "outside")
	assert.Contains(t, err.Error(), "09:00-21:00")

	err = validateStart(cal, d, tomorrowAt(9, 10), 30, testNow)
	assert.Contains(t, err.Error(), "aligned")
	assert.Equal(t, KindInvalidArgument, KindOf(err))

	err = validateStart(cal, d, testNow, 30, testNow)
	assert.Contains(t, err.Error(), "future")
}

func TestValidateStartOrder(t *testing.T) {
	cal := DefaultCalendar()
	d := newDoctor()

	// duration is checked first, then time in the past
	assert.ErrorIs(t, validateStart(cal, d, testNow.AddDate(0, 0, -1), 0, testNow), ErrInvalidDuration)
	assert.ErrorIs(t, validateStart(cal, d, testNow.AddDate(0, 0, -1), 30, testNow), ErrStartInPast)
}

func TestValidateStartRejectsOversizedDuration(t *testing.T) {
	cal := DefaultCalendar()
	d := newDoctor()

	for _, minutes := range []int{maxDurationMinutes + 1, 1 << 53, 9007199254740991} {
		assert.ErrorIs(t, validateStart(cal, d, tomorrowAt(10, 0), minutes, testNow), ErrInvalidDuration)
	}
	// a full-day duration is in range but no window can hold it
	assert.ErrorIs(t, validateStart(cal, d, tomorrowAt(10, 0), maxDurationMinutes, testNow), ErrOutsideHours)
}

func TestValidateNotes(t *testing.T) {
	assert.NoError(t, validateNotes(strings.Repeat("a", maxChiefComplaintLen), strings.Repeat("b", maxSymptomsLen)))
	// multi-byte characters count once
	assert.NoError(t, validateNotes(strings.Repeat("é", maxChiefComplaintLen), ""))

	err := validateNotes(strings.Repeat("a", maxChiefComplaintLen+1), "")
	assert.ErrorIs(t, err, ErrTextTooLong)
	assert.Contains(t, err.Error(), "chief complaint")

	err = validateNotes("", strings.Repeat("b", maxSymptomsLen+1))
	assert.ErrorIs(t, err, ErrTextTooLong)
	assert.Equal(t, KindInvalidArgument, KindOf(err))
}
