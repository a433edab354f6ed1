package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinova/allocation-engine/internal/booking"
	redisclient "github.com/clinova/allocation-engine/internal/redis"
	"github.com/clinova/allocation-engine/internal/schedule"
	"github.com/clinova/allocation-engine/internal/waitlist"
)

func createBookingHandler(authority *booking.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, ok := parseUUIDField(w, req.DoctorID, "doctor_id")
		if !ok {
			return
		}
		serviceID, ok := parseUUIDField(w, req.ServiceID, "service_id")
		if !ok {
			return
		}
		patientID, ok := parseUUIDField(w, req.PatientID, "patient_id")
		if !ok {
			return
		}

		appt, err := authority.RequestBooking(r.Context(), booking.BookingRequest{
			DoctorID:  doctorID,
			ServiceID: serviceID,
			PatientID: patientID,
			Start:     req.Start,
		})
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(authority *booking.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := authority.CancelAppointment(r.Context(), id)
		if err != nil {
			if errors.Is(err, booking.ErrAppointmentNotFound) {
				writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(repo booking.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := repo.GetAppointmentByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, booking.ErrAppointmentNotFound) {
				writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(ledger *booking.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := ledger.Complete(r.Context(), id)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func markNoShowHandler(ledger *booking.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := ledger.MarkNoShow(r.Context(), id)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listPatientAppointmentsHandler(repo booking.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		limit, offset, ok := parsePagination(w, r)
		if !ok {
			return
		}

		appts, err := repo.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func listDoctorAppointmentsHandler(repo booking.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		from, to, ok := parseRange(w, r)
		if !ok {
			return
		}

		appts, err := repo.ListAppointmentsByDoctor(r.Context(), doctorID, from, to)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func listOpenSlotsHandler(authority *booking.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		serviceID, ok := parseUUIDField(w, r.URL.Query().Get("service_id"), "service_id")
		if !ok {
			return
		}
		from, to, ok := parseRange(w, r)
		if !ok {
			return
		}

		slots, err := authority.OpenSlots(r.Context(), doctorID, serviceID, from, to)
		if err != nil {
			handleLookupError(w, err)
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, SlotResponse{DoctorID: s.DoctorID, Start: s.Interval.Start, End: s.Interval.End})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func publishCalendarHandler(authority *booking.Authority, horizonDays int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		var req CalendarRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		cal, err := toCalendar(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_calendar", err.Error())
			return
		}

		doctor, err := authority.PublishScheduleRevision(r.Context(), doctorID, cal, horizonDays)
		if err != nil {
			if errors.Is(err, booking.ErrBadSlotGeometry) {
				writeError(w, http.StatusBadRequest, "invalid_calendar", err.Error())
				return
			}
			handleLookupError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"doctor_id": doctor.ID.String(), "status": "published"})
	}
}

func registerWaitlistHandler(queue *waitlist.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterWaitlistRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, ok := parseUUIDField(w, req.PatientID, "patient_id")
		if !ok {
			return
		}
		serviceID, ok := parseUUIDField(w, req.ServiceID, "service_id")
		if !ok {
			return
		}

		days := make([]waitlist.DayRequest, 0, len(req.Days))
		for _, d := range req.Days {
			day, err := time.ParseInLocation("2006-01-02", d.Day, time.UTC)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_day", fmt.Sprintf("day %q must be YYYY-MM-DD", d.Day))
				return
			}
			periods := make([]waitlist.Period, 0, len(d.Periods))
			for _, p := range d.Periods {
				periods = append(periods, waitlist.Period(strings.ToLower(p)))
			}
			days = append(days, waitlist.DayRequest{Day: day, Periods: periods})
		}

		entry, err := queue.Enqueue(r.Context(), waitlist.Registration{
			PatientID: patientID,
			ServiceID: serviceID,
			Days:      days,
			Flexibility: waitlist.Flexibility{
				Mode:       waitlist.FlexibilityMode(req.Flexibility.Mode),
				WindowDays: req.Flexibility.WindowDays,
			},
			Tier: waitlist.Tier(req.Tier),
		})
		if err != nil {
			handleWaitlistError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toEntryResponse(entry))
	}
}

func withdrawWaitlistHandler(queue *waitlist.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		entry, err := queue.Withdraw(r.Context(), id)
		if err != nil {
			handleWaitlistError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toEntryResponse(entry))
	}
}

func reprioritizeWaitlistHandler(queue *waitlist.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		var req ReprioritizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		entry, err := queue.Reprioritize(r.Context(), id, waitlist.Tier(req.Tier))
		if err != nil {
			handleWaitlistError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toEntryResponse(entry))
	}
}

func listWaitlistHandler(queue *waitlist.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := queue.OrderedWaiting(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		out := make([]WaitlistEntryResponse, 0, len(entries))
		for i := range entries {
			out = append(out, toEntryResponse(&entries[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func confirmHoldHandler(matcher *waitlist.Matcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := matcher.ConfirmHold(r.Context(), id)
		if err != nil {
			handleConfirmError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// Error mapping

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrDoctorNotFound),
		errors.Is(err, booking.ErrServiceNotFound),
		errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, booking.ErrBadSlotGeometry):
		writeError(w, http.StatusUnprocessableEntity, "invalid_slot_geometry", err.Error())
	case errors.Is(err, booking.ErrDoctorServiceMismatch):
		writeError(w, http.StatusUnprocessableEntity, "doctor_service_mismatch", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_no_longer_available", err.Error())
	case errors.Is(err, booking.ErrDoctorBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "doctor_being_booked", "doctor is currently being booked, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrDoctorNotFound),
		errors.Is(err, booking.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleWaitlistError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, waitlist.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "entry_not_found", err.Error())
	case errors.Is(err, waitlist.ErrInvalidTier),
		errors.Is(err, waitlist.ErrInvalidFlexibility),
		errors.Is(err, waitlist.ErrNoRequestedDays):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleConfirmError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, waitlist.ErrEntryNotFound),
		errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, waitlist.ErrNoHold):
		writeError(w, http.StatusConflict, "no_outstanding_hold", err.Error())
	case errors.Is(err, booking.ErrHoldExpired):
		writeError(w, http.StatusConflict, "hold_expired", err.Error())
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// Helpers

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		ServiceID: a.ServiceID,
		Start:     a.Start,
		End:       a.End,
		Status:    string(a.Status),
		Origin:    string(a.Origin),
		ExpiresAt: a.ExpiresAt,
	}
}

func toEntryResponse(e *waitlist.Entry) WaitlistEntryResponse {
	days := make([]DayRequestPayload, 0, len(e.Days))
	for _, d := range e.Days {
		periods := make([]string, 0, len(d.Periods))
		for _, p := range d.Periods {
			periods = append(periods, string(p))
		}
		days = append(days, DayRequestPayload{Day: d.Day.Format("2006-01-02"), Periods: periods})
	}

	return WaitlistEntryResponse{
		ID:            e.ID,
		PatientID:     e.PatientID,
		ServiceID:     e.ServiceID,
		Days:          days,
		Flexibility:   string(e.Flexibility.Mode),
		WindowDays:    e.Flexibility.WindowDays,
		Tier:          string(e.Tier),
		EnqueuedAt:    e.EnqueuedAt,
		Status:        string(e.Status),
		AppointmentID: e.AppointmentID,
	}
}

func toCalendar(req CalendarRequest) (schedule.Calendar, error) {
	dayStart, err := parseMinuteOfDay(req.DayStart)
	if err != nil {
		return schedule.Calendar{}, fmt.Errorf("day_start: %w", err)
	}
	dayEnd, err := parseMinuteOfDay(req.DayEnd)
	if err != nil {
		return schedule.Calendar{}, fmt.Errorf("day_end: %w", err)
	}

	daysOff := make(map[time.Weekday]bool, len(req.DaysOff))
	for _, wd := range req.DaysOff {
		if wd < 0 || wd > 6 {
			return schedule.Calendar{}, fmt.Errorf("days_off index %d out of range", wd)
		}
		daysOff[time.Weekday(wd)] = true
	}

	return schedule.Calendar{
		DayStart:    dayStart,
		DayEnd:      dayEnd,
		DaysOff:     daysOff,
		SlotMinutes: req.SlotMinutes,
	}, nil
}

func parseMinuteOfDay(s string) (schedule.MinuteOfDay, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%q must be HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%q must be HH:MM", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%q must be HH:MM", s)
	}
	return schedule.MinuteOfDay(h*60 + m), nil
}

func parseUUIDField(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()

	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
		return time.Time{}, time.Time{}, false
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "invalid_range", "to must not precede from")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func parsePagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()

	limit = 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 200")
			return 0, 0, false
		}
		limit = n
	}

	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be non-negative")
			return 0, 0, false
		}
		offset = n
	}

	return limit, offset, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
