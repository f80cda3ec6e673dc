package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hackgods/doctor-appointment-scheduling/internal/metrics"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	completionBatch = 500
)

type Options struct {
	Calendar Calendar
	Cache    SlotCache // optional
	CacheTTL time.Duration
	Notifier Notifier // optional
	Metrics  *metrics.Collector
	Logger   *zap.Logger
	Clock    func() time.Time
}

type Service struct {
	repo     Repository
	cal      Calendar
	cache    SlotCache
	cacheTTL time.Duration
	notifier Notifier
	metrics  *metrics.Collector
	log      *zap.Logger
	now      func() time.Time

	slotFlight singleflight.Group
}

func NewService(repo Repository, opts Options) *Service {
	s := &Service{
		repo:     repo,
		cal:      opts.Calendar,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		now:      opts.Clock,
	}
	if s.cal.Location == nil {
		s.cal = DefaultCalendar()
	}
	if s.cacheTTL <= 0 {
		s.cache = nil
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) Calendar() Calendar { return s.cal }

// BookAppointment validates the request and creates a SCHEDULED appointment.
// The conflict check and the insert run in the doctor's unit of work, so two
// overlapping requests cannot both succeed.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (_ *Appointment, err error) {
	defer func() { s.observe("book", err) }()

	if req.PatientID == uuid.Nil || req.DoctorID == uuid.Nil {
		return nil, ErrMissingIdentifier
	}

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	doctor, err := s.loadDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.IsAvailable {
		return nil, ErrDoctorUnavailable
	}

	if !req.Type.IsValid() {
		return nil, ErrInvalidType
	}
	if err := validateNotes(req.ChiefComplaint, req.Symptoms); err != nil {
		return nil, err
	}
	duration := req.DurationMinutes
	if duration == 0 {
		duration = doctor.SlotDurationMinutes
	}

	now := s.now()
	start := req.StartTime.In(s.cal.Location)
	if err := validateStart(s.cal, doctor, start, duration, now); err != nil {
		return nil, err
	}

	appt := &Appointment{
		ID:              uuid.New(),
		PatientID:       req.PatientID,
		DoctorID:        doctor.ID,
		StartTime:       start,
		DurationMinutes: duration,
		Status:          StatusScheduled,
		Type:            req.Type,
		ConsultationFee: doctor.ConsultationFee,
		ChiefComplaint:  req.ChiefComplaint,
		Symptoms:        req.Symptoms,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.repo.WithDoctorTx(ctx, doctor.ID, func(ctx context.Context, tx Tx) error {
		conflict, err := detectConflict(ctx, tx, doctor.ID, appt.StartTime, appt.EndTime(), nil)
		if err != nil {
			return err
		}
		if conflict {
			return ErrSlotConflict
		}

		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return err
		}

		return s.logEvent(ctx, tx, appt.ID, EventAppointmentBooked, map[string]any{
			"patient_id": appt.PatientID.String(),
			"doctor_id":  appt.DoctorID.String(),
			"start_time": appt.StartTime,
			"duration":   appt.DurationMinutes,
		})
	})
	if err != nil {
		return nil, wrapTx("book appointment", err)
	}

	s.invalidateSlots(ctx, doctor.ID, appt.StartTime)
	s.notifier.AppointmentBooked(*appt)

	s.log.Info("appointment booked",
		zap.Stringer("appointment_id", appt.ID),
		zap.Stringer("patient_id", appt.PatientID),
		zap.Stringer("doctor_id", appt.DoctorID),
		zap.Time("start_time", appt.StartTime),
	)

	return appt, nil
}

// RescheduleAppointment moves a SCHEDULED appointment to newStart, keeping
// its doctor and duration. The appointment is excluded from its own conflict
// check.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, newStart time.Time, requesterID uuid.UUID) (_ *Appointment, err error) {
	defer func() { s.observe("reschedule", err) }()

	appt, doctor, _, err := s.loadForParticipant(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	if err := appt.Status.CheckReschedulable(); err != nil {
		return nil, err
	}

	now := s.now()
	start := newStart.In(s.cal.Location)
	if err := validateStart(s.cal, doctor, start, appt.DurationMinutes, now); err != nil {
		return nil, err
	}

	oldStart := appt.StartTime
	var updated *Appointment

	err = s.repo.WithDoctorTx(ctx, appt.DoctorID, func(ctx context.Context, tx Tx) error {
		current, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := current.Status.CheckReschedulable(); err != nil {
			return err
		}

		end := start.Add(time.Duration(current.DurationMinutes) * time.Minute)
		conflict, err := detectConflict(ctx, tx, current.DoctorID, start, end, &current.ID)
		if err != nil {
			return err
		}
		if conflict {
			return ErrSlotConflict
		}

		oldStart = current.StartTime
		if err := current.Reschedule(start, now); err != nil {
			return err
		}
		if err := tx.UpdateAppointment(ctx, current); err != nil {
			return err
		}

		updated = current
		return s.logEvent(ctx, tx, current.ID, EventAppointmentRescheduled, map[string]any{
			"from":         oldStart,
			"to":           start,
			"requested_by": requesterID.String(),
		})
	})
	if err != nil {
		return nil, wrapTx("reschedule appointment", err)
	}

	s.invalidateSlots(ctx, updated.DoctorID, oldStart, updated.StartTime)

	s.log.Info("appointment rescheduled",
		zap.Stringer("appointment_id", updated.ID),
		zap.Time("from", oldStart),
		zap.Time("to", updated.StartTime),
	)

	return updated, nil
}

// CancelAppointment terminates a SCHEDULED appointment. cancelledBy is
// derived from whether the requester is the patient or the doctor.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string, requesterID uuid.UUID) (_ *Appointment, err error) {
	defer func() { s.observe("cancel", err) }()

	appt, _, party, err := s.loadForParticipant(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	if _, err := appt.Status.Cancel(); err != nil {
		return nil, err
	}

	now := s.now()
	var cancelled *Appointment

	err = s.repo.WithDoctorTx(ctx, appt.DoctorID, func(ctx context.Context, tx Tx) error {
		current, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := current.Cancel(party, reason, now); err != nil {
			return err
		}
		if err := tx.UpdateAppointment(ctx, current); err != nil {
			return err
		}

		cancelled = current
		return s.logEvent(ctx, tx, current.ID, EventAppointmentCancelled, map[string]any{
			"reason":       reason,
			"cancelled_by": string(party),
		})
	})
	if err != nil {
		return nil, wrapTx("cancel appointment", err)
	}

	s.invalidateSlots(ctx, cancelled.DoctorID, cancelled.StartTime)
	s.notifier.AppointmentCancelled(*cancelled, reason)

	s.log.Info("appointment cancelled",
		zap.Stringer("appointment_id", cancelled.ID),
		zap.String("cancelled_by", string(party)),
		zap.String("reason", reason),
	)

	return cancelled, nil
}

// GetAvailableSlots lists the doctor's slots for the calendar day of date.
// Results may be served from the slot cache and can be up to the cache TTL
// stale; booking re-checks conflicts regardless.
func (s *Service) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	doctor, err := s.loadDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.IsAvailable {
		return []Slot{}, nil
	}

	key := s.cal.DateKey(date)

	if s.cache != nil {
		slots, ok, err := s.cache.Get(ctx, doctorID, key)
		switch {
		case err != nil:
			s.metrics.SlotCache("error")
			s.log.Warn("slot cache read failed", zap.Stringer("doctor_id", doctorID), zap.Error(err))
		case ok:
			s.metrics.SlotCache("hit")
			return slots, nil
		default:
			s.metrics.SlotCache("miss")
		}
	}

	v, err, _ := s.slotFlight.Do(doctorID.String()+":"+key, func() (any, error) {
		dayStart, dayEnd := s.cal.Day(date)
		existing, err := s.repo.ListDoctorAppointments(ctx, doctorID, dayStart, dayEnd)
		if err != nil {
			return nil, fmt.Errorf("list doctor appointments: %w", err)
		}

		slots := GenerateSlots(doctor, s.cal.WindowsFor(doctor), dayStart, existing, s.now(), s.cal.Location)

		if s.cache != nil {
			if err := s.cache.Set(ctx, doctorID, key, slots, s.cacheTTL); err != nil {
				s.log.Warn("slot cache write failed", zap.Stringer("doctor_id", doctorID), zap.Error(err))
			}
		}
		return slots, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Slot), nil
}

// GetAppointment returns an appointment to one of its participants.
func (s *Service) GetAppointment(ctx context.Context, id, requesterID uuid.UUID) (*Appointment, error) {
	appt, _, _, err := s.loadForParticipant(ctx, id, requesterID)
	return appt, err
}

func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	appts, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appts, nil
}

func (s *Service) ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	appts, err := s.repo.ListAppointmentsByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appts, nil
}

// CompleteElapsed marks SCHEDULED appointments whose end time has passed as
// COMPLETED. It is intended to be called by the completion worker.
func (s *Service) CompleteElapsed(ctx context.Context) (int, error) {
	now := s.now()
	elapsed, err := s.repo.FindElapsedScheduled(ctx, now, completionBatch)
	if err != nil {
		return 0, fmt.Errorf("find elapsed appointments: %w", err)
	}

	completed := 0
	for _, appt := range elapsed {
		done := false
		err := s.repo.WithDoctorTx(ctx, appt.DoctorID, func(ctx context.Context, tx Tx) error {
			current, err := tx.GetAppointmentForUpdate(ctx, appt.ID)
			if err != nil {
				return err
			}
			// rescheduled or cancelled since the scan
			if current.Status != StatusScheduled || current.EndTime().After(now) {
				return nil
			}
			if err := current.Complete(now); err != nil {
				return err
			}
			if err := tx.UpdateAppointment(ctx, current); err != nil {
				return err
			}
			done = true
			return s.logEvent(ctx, tx, current.ID, EventAppointmentCompleted, map[string]any{
				"reason": "elapsed",
			})
		})
		if err != nil {
			s.log.Error("failed to complete appointment", zap.Stringer("appointment_id", appt.ID), zap.Error(err))
			continue
		}
		if done {
			completed++
		}
	}

	if completed > 0 {
		s.log.Info("completed elapsed appointments", zap.Int("count", completed))
	}
	s.metrics.Workflow("complete", "ok")
	return completed, nil
}

func (s *Service) loadDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	doctor, err := s.repo.GetDoctorByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	return doctor, nil
}

// loadForParticipant loads an appointment and its doctor and checks that the
// requester takes part in it.
func (s *Service) loadForParticipant(ctx context.Context, id, requesterID uuid.UUID) (*Appointment, *Doctor, Party, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, nil, "", err
		}
		return nil, nil, "", fmt.Errorf("load appointment: %w", err)
	}

	doctor, err := s.loadDoctor(ctx, appt.DoctorID)
	if err != nil {
		return nil, nil, "", err
	}

	party, err := participant(appt, doctor, requesterID)
	if err != nil {
		return nil, nil, "", err
	}
	return appt, doctor, party, nil
}

func participant(a *Appointment, d *Doctor, requesterID uuid.UUID) (Party, error) {
	switch {
	case requesterID == uuid.Nil:
		return "", ErrNotParticipant
	case requesterID == a.PatientID:
		return PartyPatient, nil
	case requesterID == d.UserID, requesterID == d.ID:
		return PartyDoctor, nil
	}
	return "", ErrNotParticipant
}

func (s *Service) invalidateSlots(ctx context.Context, doctorID uuid.UUID, starts ...time.Time) {
	if s.cache == nil {
		return
	}
	dates := make([]string, 0, len(starts))
	for _, t := range starts {
		dates = append(dates, s.cal.DateKey(t))
	}
	if err := s.cache.Invalidate(ctx, doctorID, dates...); err != nil {
		s.log.Warn("slot cache invalidation failed", zap.Stringer("doctor_id", doctorID), zap.Error(err))
	}
}

func (s *Service) logEvent(ctx context.Context, tx Tx, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := tx.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert event log %s: %w", eventType, err)
	}
	return nil
}

func (s *Service) observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	s.metrics.Workflow(operation, outcome)
}

// wrapTx keeps business rule errors as they are and adds context to
// infrastructure failures.
func wrapTx(op string, err error) error {
	if KindOf(err) != KindInternal {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
