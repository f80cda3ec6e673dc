package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-scheduling/internal/appointment"
)

// AppointmentService is the part of appointment.Service the handlers use.
type AppointmentService interface {
	Calendar() appointment.Calendar
	BookAppointment(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	RescheduleAppointment(ctx context.Context, id uuid.UUID, newStart time.Time, requesterID uuid.UUID) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, reason string, requesterID uuid.UUID) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id, requesterID uuid.UUID) (*appointment.Appointment, error)
	ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]appointment.Slot, error)
}

// localLayouts are accepted for start times without a zone offset; they are
// read in the clinic's time zone.
var localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04"}

func parseStartTime(raw string, loc *time.Location) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func requesterID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(RequesterHeader))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func createAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		start, ok := parseStartTime(req.StartTime, svc.Calendar().Location)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be RFC 3339 or YYYY-MM-DDTHH:MM")
			return
		}

		appt, err := svc.BookAppointment(r.Context(), appointment.BookingRequest{
			PatientID:       patientID,
			DoctorID:        doctorID,
			StartTime:       start,
			DurationMinutes: req.DurationMinutes,
			Type:            appointment.AppointmentType(req.Type),
			ChiefComplaint:  req.ChiefComplaint,
			Symptoms:        req.Symptoms,
		})
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		start, ok := parseStartTime(req.NewStartTime, svc.Calendar().Location)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "new_start_time must be RFC 3339 or YYYY-MM-DDTHH:MM")
			return
		}

		requester, _ := requesterID(r)
		appt, err := svc.RescheduleAppointment(r.Context(), id, start, requester)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req CancelRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		requester, _ := requesterID(r)
		appt, err := svc.CancelAppointment(r.Context(), id, req.Reason, requester)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, MessageResponse{
			Message:     "appointment cancelled",
			Appointment: toAppointmentResponse(appt),
		})
	}
}

func getAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		requester, _ := requesterID(r)
		appt, err := svc.GetAppointment(r.Context(), id, requester)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		limit, err := queryInt(q.Get("limit"), 20)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		offset, err := queryInt(q.Get("offset"), 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
			return
		}

		var appts []appointment.Appointment
		switch {
		case q.Get("patient_id") != "":
			patientID, err := uuid.Parse(q.Get("patient_id"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			appts, err = svc.ListPatientAppointments(r.Context(), patientID, limit, offset)
			if err != nil {
				handleServiceError(w, r, log, err)
				return
			}
		case q.Get("doctor_id") != "":
			doctorID, err := uuid.Parse(q.Get("doctor_id"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			appts, err = svc.ListDoctorAppointments(r.Context(), doctorID, limit, offset)
			if err != nil {
				handleServiceError(w, r, log, err)
				return
			}
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or doctor_id is required")
			return
		}

		resp := AppointmentListResponse{
			Appointments: make([]AppointmentResponse, 0, len(appts)),
			Limit:        limit,
			Offset:       offset,
		}
		for i := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func availableSlotsHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		cal := svc.Calendar()
		raw := r.URL.Query().Get("date")
		date, err := cal.ParseDate(raw)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		slots, err := svc.GetAvailableSlots(r.Context(), doctorID, date)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		resp := SlotsResponse{
			DoctorID: doctorID,
			Date:     cal.DateKey(date),
			Slots:    make([]SlotResponse, 0, len(slots)),
		}
		for _, s := range slots {
			resp.Slots = append(resp.Slots, SlotResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// handleServiceError maps scheduling error kinds onto HTTP statuses.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var appErr *appointment.Error
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Kind {
		case appointment.KindNotFound:
			status = http.StatusNotFound
		case appointment.KindForbidden:
			status = http.StatusForbidden
		case appointment.KindInvalidArgument:
			status = http.StatusBadRequest
		case appointment.KindInvalidState:
			status = http.StatusUnprocessableEntity
		case appointment.KindConflict:
			status = http.StatusConflict
		}
		writeError(w, status, appErr.Code, err.Error())
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
		return
	}

	log.Error("request failed",
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
