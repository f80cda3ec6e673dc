package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Directory resolves the identities this package only reads.
type Directory interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
}

// Repository contains all store interactions needed by the service.
type Repository interface {
	Directory

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListDoctorAppointments returns non-cancelled appointments overlapping
	// [from, to), ordered by start time.
	ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)

	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)

	// FindElapsedScheduled returns SCHEDULED appointments that ended before now.
	FindElapsedScheduled(ctx context.Context, now time.Time, limit int) ([]Appointment, error)

	// WithDoctorTx runs fn as one atomic unit of work. Units of work for the
	// same doctor never interleave; fn's writes are committed only if it
	// returns nil. A commit that would leave two overlapping non-cancelled
	// appointments for the doctor fails with ErrSlotConflict.
	WithDoctorTx(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the view of the store inside a doctor's unit of work.
type Tx interface {
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindConflicting(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) ([]Appointment, error)
	InsertAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error
	InsertEvent(ctx context.Context, ev EventLog) error
}

// SlotCache holds recently generated slot listings keyed by doctor and
// calendar day. It is never a source of truth for conflict checks.
type SlotCache interface {
	Get(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, bool, error)
	Set(ctx context.Context, doctorID uuid.UUID, date string, slots []Slot, ttl time.Duration) error
	Invalidate(ctx context.Context, doctorID uuid.UUID, dates ...string) error
}

// Notifier delivers appointment notifications. Implementations must not
// block the caller and must not report delivery failures back.
type Notifier interface {
	AppointmentBooked(a Appointment)
	AppointmentCancelled(a Appointment, reason string)
}

type noopNotifier struct{}

func (noopNotifier) AppointmentBooked(Appointment)            {}
func (noopNotifier) AppointmentCancelled(Appointment, string) {}

// Registrar creates the identities the workflows read. It is used by the
// seed command and by tests; the scheduling workflows never call it.
type Registrar interface {
	CreatePatient(ctx context.Context, p *Patient) error
	CreateDoctor(ctx context.Context, d *Doctor) error
}
