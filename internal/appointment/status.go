package appointment

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an appointment. The zero value is not a
// valid status; values come from the constants below or ParseStatus.
//
//	SCHEDULED -> COMPLETED
//	SCHEDULED -> CANCELLED
//
// COMPLETED and CANCELLED are terminal.
type Status uint8

const (
	StatusScheduled Status = iota + 1
	StatusCompleted
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusScheduled: "SCHEDULED",
	StatusCompleted: "COMPLETED",
	StatusCancelled: "CANCELLED",
}

func ParseStatus(s string) (Status, error) {
	for st, name := range statusNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown appointment status %q", s)
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("marshal invalid appointment status %d", uint8(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Cancel returns the state after a cancellation.
func (s Status) Cancel() (Status, error) {
	if s != StatusScheduled {
		return s, transitionError(s, StatusCancelled)
	}
	return StatusCancelled, nil
}

// Complete returns the state after the visit took place.
func (s Status) Complete() (Status, error) {
	if s != StatusScheduled {
		return s, transitionError(s, StatusCompleted)
	}
	return StatusCompleted, nil
}

// CheckReschedulable reports whether the start time may still be moved.
// Rescheduling keeps the status unchanged.
func (s Status) CheckReschedulable() error {
	if s != StatusScheduled {
		return fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, s)
	}
	return nil
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Cancel moves the appointment to CANCELLED and records the audit fields.
func (a *Appointment) Cancel(by Party, reason string, now time.Time) error {
	next, err := a.Status.Cancel()
	if err != nil {
		return err
	}
	a.Status = next
	a.CancellationReason = reason
	a.CancelledBy = &by
	a.CancelledAt = &now
	a.UpdatedAt = now
	return nil
}

func (a *Appointment) Complete(now time.Time) error {
	next, err := a.Status.Complete()
	if err != nil {
		return err
	}
	a.Status = next
	a.UpdatedAt = now
	return nil
}

// Reschedule moves the start time in place; the status stays SCHEDULED.
func (a *Appointment) Reschedule(start, now time.Time) error {
	if err := a.Status.CheckReschedulable(); err != nil {
		return err
	}
	a.StartTime = start
	a.UpdatedAt = now
	return nil
}
