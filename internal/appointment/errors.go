package appointment

import "errors"

// Kind classifies a scheduling failure. All kinds except KindInternal are
// deterministic business rule failures and are never retried internally.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindInvalidArgument
	KindInvalidState
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidState:
		return "invalid_state"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a business rule failure with a stable code and a message that is
// safe to show to the caller.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

var (
	ErrPatientNotFound     = newError(KindNotFound, "patient_not_found", "patient not found")
	ErrDoctorNotFound      = newError(KindNotFound, "doctor_not_found", "doctor not found")
	ErrAppointmentNotFound = newError(KindNotFound, "appointment_not_found", "appointment not found")

	ErrNotParticipant = newError(KindForbidden, "not_participant", "requester is neither the patient nor the doctor of this appointment")

	ErrStartInPast       = newError(KindInvalidArgument, "start_in_past", "appointment time must be in the future")
	ErrOutsideHours      = newError(KindInvalidArgument, "outside_working_hours", "appointment time is outside the doctor's working hours")
	ErrMisaligned        = newError(KindInvalidArgument, "misaligned_start", "appointment time is not aligned to the doctor's slot duration")
	ErrInvalidDuration   = newError(KindInvalidArgument, "invalid_duration", "duration must be between 1 and 1440 minutes")
	ErrInvalidType       = newError(KindInvalidArgument, "invalid_type", "appointment type must be IN_PERSON, ONLINE or FOLLOW_UP")
	ErrInvalidDate       = newError(KindInvalidArgument, "invalid_date", "date must be formatted as YYYY-MM-DD")
	ErrTextTooLong       = newError(KindInvalidArgument, "text_too_long", "chief complaint or symptoms exceed the allowed length")
	ErrMissingIdentifier = newError(KindInvalidArgument, "missing_identifier", "patient, doctor and appointment ids are required")

	ErrDoctorUnavailable = newError(KindInvalidState, "doctor_unavailable", "doctor is not accepting appointments")
	ErrInvalidTransition = newError(KindInvalidState, "invalid_status_transition", "appointment cannot change from its current status")

	ErrSlotConflict = newError(KindConflict, "slot_conflict", "doctor already has an appointment during this time")
)

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
