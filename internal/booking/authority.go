package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinova/allocation-engine/internal/clock"
	"github.com/clinova/allocation-engine/internal/events"
	"github.com/clinova/allocation-engine/internal/notify"
	"github.com/clinova/allocation-engine/internal/schedule"
)

var (
	// ErrSlotUnavailable means the slot was lost to another booking; the
	// caller recovers by re-querying open slots.
	ErrSlotUnavailable = errors.New("slot is no longer available")

	// ErrDoctorServiceMismatch and ErrBadSlotGeometry are caller errors; the
	// same request will never succeed without being changed.
	ErrDoctorServiceMismatch = errors.New("doctor cannot perform this service")
	ErrBadSlotGeometry       = errors.New("slot is not a valid position in the doctor's schedule")
)

// BookingRequest is a booking intent: who wants which service with which
// doctor, starting when. The end is derived from the service duration.
type BookingRequest struct {
	DoctorID  uuid.UUID
	ServiceID uuid.UUID
	PatientID uuid.UUID
	Start     time.Time
}

// Authority is the single chokepoint through which every booking passes,
// direct or waitlist-driven. It validates the intent against the schedule
// catalog and delegates the atomic commit to the ledger, so the no-overlap
// invariant holds regardless of caller.
type Authority struct {
	repo     Repository
	ledger   *Ledger
	notifier notify.Port
	clk      clock.Clock
	holdTTL  time.Duration
}

func NewAuthority(repo Repository, ledger *Ledger, notifier notify.Port, clk clock.Clock, holdTTL time.Duration) *Authority {
	return &Authority{
		repo:     repo,
		ledger:   ledger,
		notifier: notifier,
		clk:      clk,
		holdTTL:  holdTTL,
	}
}

// RequestBooking validates and commits a direct booking. The appointment is
// confirmed immediately; the patient chose this exact slot themselves.
func (a *Authority) RequestBooking(ctx context.Context, req BookingRequest) (*Appointment, error) {
	appt, err := a.book(ctx, req, OriginDirect)
	if err != nil {
		return nil, err
	}

	a.notifier.OnBookingConfirmed(ctx, notify.Booking{
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		ServiceID:     appt.ServiceID,
		DoctorID:      appt.DoctorID,
		Start:         appt.Start,
		End:           appt.End,
	})

	return appt, nil
}

// RequestHold validates and commits a waitlist-originated booking. The
// appointment starts pending with a bounded confirmation window; the patient
// has not actively chosen the slot yet.
func (a *Authority) RequestHold(ctx context.Context, req BookingRequest) (*Appointment, error) {
	return a.book(ctx, req, OriginWaitlist)
}

func (a *Authority) book(ctx context.Context, req BookingRequest, origin Origin) (*Appointment, error) {
	doctor, err := a.repo.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	service, err := a.repo.GetServiceByID(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if _, err := a.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, err
	}

	iv := schedule.Interval{
		Start: req.Start,
		End:   req.Start.Add(time.Duration(service.DurationMinutes) * time.Minute),
	}

	if !schedule.AlignedStart(doctor, iv) {
		return nil, ErrBadSlotGeometry
	}
	if !schedule.Compatible(doctor, service) {
		return nil, ErrDoctorServiceMismatch
	}

	now := a.clk.Now()
	appt := &Appointment{
		ID:        uuid.New(),
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		ServiceID: req.ServiceID,
		Start:     iv.Start,
		End:       iv.End,
		Status:    StatusConfirmed,
		Origin:    origin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if origin == OriginWaitlist {
		expiry := now.Add(a.holdTTL)
		appt.Status = StatusPending
		appt.ExpiresAt = &expiry
	}

	if err := a.ledger.Commit(ctx, appt); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}

	return appt, nil
}

// CancelAppointment is the cancellation entry point for callers outside the
// engine.
func (a *Authority) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return a.ledger.Cancel(ctx, id)
}

// OpenSlots returns the candidate slots for a doctor/service over [from, to]
// that the ledger does not currently block. Availability is a deterministic
// function of committed state, never of chance.
func (a *Authority) OpenSlots(ctx context.Context, doctorID, serviceID uuid.UUID, from, to time.Time) ([]schedule.TimeSlot, error) {
	doctor, err := a.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	service, err := a.repo.GetServiceByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	candidates := schedule.CandidateSlots(doctor, service, from, to)
	open := make([]schedule.TimeSlot, 0, len(candidates))
	for _, slot := range candidates {
		free, err := a.ledger.IsFree(ctx, doctorID, slot.Interval)
		if err != nil {
			return nil, err
		}
		if free {
			open = append(open, slot)
		}
	}

	return open, nil
}

// PublishScheduleRevision replaces the doctor's calendar and announces every
// free granularity-sized interval over the horizon so waiting entries get a
// shot at the new capacity.
func (a *Authority) PublishScheduleRevision(ctx context.Context, doctorID uuid.UUID, cal schedule.Calendar, horizonDays int) (*schedule.Doctor, error) {
	if cal.SlotMinutes <= 0 || cal.DayEnd <= cal.DayStart {
		return nil, ErrBadSlotGeometry
	}

	doctor, err := a.repo.UpdateDoctorCalendar(ctx, doctorID, cal)
	if err != nil {
		return nil, err
	}

	// Granule-sized intervals; the matcher sizes actual bookings to each
	// entry's service when it proposes one.
	granule := schedule.Service{DurationMinutes: cal.SlotMinutes}
	probe := *doctor
	probe.GeneralPurpose = true

	now := a.clk.Now()
	for _, slot := range schedule.CandidateSlots(&probe, &granule, now, now.AddDate(0, 0, horizonDays)) {
		if slot.Interval.End.Before(now) {
			continue
		}
		free, err := a.ledger.IsFree(ctx, doctorID, slot.Interval)
		if err != nil {
			return nil, fmt.Errorf("check revision slot: %w", err)
		}
		if free {
			a.ledger.PublishFreedSlot(ctx, doctorID, slot.Interval, events.ReasonScheduleRevision)
		}
	}

	return doctor, nil
}
