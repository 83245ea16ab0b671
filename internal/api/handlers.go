package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := requirePrincipal(w, r)
		if !ok {
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		practitionerID, err := uuid.Parse(req.PractitionerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner_id must be a valid UUID")
			return
		}

		in := appointment.CreateInput{
			PractitionerID:  practitionerID,
			Date:            req.Date,
			Time:            req.Time,
			DurationMinutes: req.DurationMinutes,
			Reason:          req.Reason,
		}
		if req.PatientID != "" {
			patientID, err := uuid.Parse(req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			in.PatientID = &patientID
		}

		appt, err := svc.CreateAppointment(r.Context(), p, in)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), p, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		f, ok := parseListFilter(w, r)
		if !ok {
			return
		}

		appts, err := svc.ListAppointments(r.Context(), p, f)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		page := f.Paged()
		resp := ListAppointmentsResponse{
			Appointments: make([]AppointmentResponse, 0, len(appts)),
			Limit:        page.Limit,
			Offset:       page.Offset,
		}
		for i := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		f, ok := parseListFilter(w, r)
		if !ok {
			return
		}

		counts, err := svc.Stats(r.Context(), p, f)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := StatsResponse{Counts: make(map[string]int, len(counts))}
		for status, n := range counts {
			resp.Counts[string(status)] = n
			resp.Total += n
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in := appointment.UpdateInput{Date: req.Date, Time: req.Time, Notes: req.Notes}
		if req.Status != nil {
			status, err := appointment.ParseStatus(*req.Status)
			if err != nil {
				handleServiceError(w, r, err)
				return
			}
			in.Status = &status
		}

		appt, err := svc.UpdateAppointment(r.Context(), p, id, in)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		// an empty body reaches the service, which reports the missing reason
		var req CancelAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), p, id, req.CancelReason)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func availabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requirePrincipal(w, r); !ok {
			return
		}
		practitionerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "id must be a valid UUID")
			return
		}

		q := r.URL.Query()
		duration := 0
		if raw := q.Get("duration"); raw != "" {
			duration, err = strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "validation_failed", "duration must be an integer")
				return
			}
		}
		if duration == 0 {
			duration = appointment.DefaultDurationMinutes
		}

		windows, err := svc.Availability(r.Context(), practitionerID, q.Get("date"), duration)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			PractitionerID:  practitionerID,
			Date:            q.Get("date"),
			DurationMinutes: duration,
			Windows:         toWindows(windows),
		})
	}
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
	}
	return p, ok
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseListFilter(w http.ResponseWriter, r *http.Request) (appointment.ListFilter, bool) {
	q := r.URL.Query()
	var f appointment.ListFilter

	for param, dst := range map[string]**uuid.UUID{
		"patient_id":      &f.PatientID,
		"practitioner_id": &f.PractitionerID,
	} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+param, param+" must be a valid UUID")
			return f, false
		}
		*dst = &id
	}

	if raw := q.Get("status"); raw != "" {
		status, err := appointment.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return f, false
		}
		f.Status = &status
	}
	if raw := q.Get("from"); raw != "" {
		f.From = &raw
	}
	if raw := q.Get("to"); raw != "" {
		f.To = &raw
	}

	for param, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", param+" must be a non-negative integer")
			return f, false
		}
		*dst = n
	}
	return f, true
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *appointment.SchedulingConflictError
	switch {
	case errors.Is(err, appointment.ErrInvalidTimeFormat):
		writeError(w, http.StatusBadRequest, "invalid_time_format", err.Error())
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrPractitionerNotFound):
		writeError(w, http.StatusNotFound, "practitioner_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "scheduling_conflict",
			Details: conflict.Error(),
			Conflict: &ConflictDetail{
				AppointmentID:   conflict.AppointmentID,
				Time:            conflict.Time,
				DurationMinutes: conflict.DurationMinutes,
			},
		})
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusConflict, "scheduling_conflict", err.Error())
	case errors.Is(err, appointment.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "already_cancelled", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrConcurrentUpdate):
		writeError(w, http.StatusConflict, "concurrent_update", err.Error())
	case errors.Is(err, appointment.ErrScheduleBusy):
		writeError(w, http.StatusConflict, "schedule_busy", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: msg})
}
