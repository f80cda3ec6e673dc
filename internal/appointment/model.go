package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AppointmentType string

const (
	TypeInPerson AppointmentType = "IN_PERSON"
	TypeOnline   AppointmentType = "ONLINE"
	TypeFollowUp AppointmentType = "FOLLOW_UP"
)

func (t AppointmentType) IsValid() bool {
	switch t {
	case TypeInPerson, TypeOnline, TypeFollowUp:
		return true
	}
	return false
}

// Party identifies which side of an appointment performed an action.
type Party string

const (
	PartyPatient Party = "PATIENT"
	PartyDoctor  Party = "DOCTOR"
)

// ClockTime is a wall clock time of day in minutes since midnight.
type ClockTime int

func Clock(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the instant c denotes on the calendar day of date in loc.
func (c ClockTime) On(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.In(loc).Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, loc)
}

// WorkingWindow is a daily half-open range [Start, End) in which a doctor
// accepts appointments.
type WorkingWindow struct {
	Session string
	Start   ClockTime
	End     ClockTime
}

func (w WorkingWindow) String() string {
	return w.Start.String() + "-" + w.End.String()
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	Name                string
	Specialty           *string
	ConsultationFee     decimal.Decimal
	SlotDurationMinutes int
	IsAvailable         bool
	WorkingHours        []WorkingWindow
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (d *Doctor) SlotDuration() time.Duration {
	return time.Duration(d.SlotDurationMinutes) * time.Minute
}

type Appointment struct {
	ID                 uuid.UUID       `json:"id"`
	PatientID          uuid.UUID       `json:"patient_id"`
	DoctorID           uuid.UUID       `json:"doctor_id"`
	StartTime          time.Time       `json:"start_time"`
	DurationMinutes    int             `json:"duration_minutes"`
	Status             Status          `json:"status"`
	Type               AppointmentType `json:"type"`
	ConsultationFee    decimal.Decimal `json:"consultation_fee"`
	ChiefComplaint     string          `json:"chief_complaint,omitempty"`
	Symptoms           string          `json:"symptoms,omitempty"`
	DoctorNotes        string          `json:"doctor_notes,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CancelledBy        *Party          `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Slot is a candidate booking interval for a doctor.
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
	Session   string    `json:"session,omitempty"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
)

// BookingRequest carries the inputs of the booking workflow.
type BookingRequest struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	StartTime       time.Time
	DurationMinutes int
	Type            AppointmentType
	ChiefComplaint  string
	Symptoms        string
}
