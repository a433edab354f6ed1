package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/clinova/allocation-engine/internal/clock"
	"github.com/clinova/allocation-engine/internal/events"
	"github.com/clinova/allocation-engine/internal/schedule"
	redisclient "github.com/clinova/allocation-engine/internal/redis"
)

var (
	// ErrConflict means the interval overlaps an existing claim on the
	// doctor's time. The committed state is the reference truth; callers
	// re-query availability rather than retrying blind.
	ErrConflict = errors.New("interval conflicts with an existing appointment")

	// ErrDoctorBusy means the per-doctor lock could not be acquired; a
	// concurrent commit for the same doctor is in flight.
	ErrDoctorBusy = errors.New("doctor is being booked, please retry")

	ErrHoldExpired             = errors.New("hold has already expired")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// Ledger is the source of truth for committed appointments. It owns the
// invariant that no two blocking appointments for the same doctor overlap,
// enforced by serializing the check-then-insert per doctor.
type Ledger struct {
	repo   Repository
	locker redisclient.Locker
	bus    events.Bus
	clk    clock.Clock
}

func NewLedger(repo Repository, locker redisclient.Locker, bus events.Bus, clk clock.Clock) *Ledger {
	return &Ledger{
		repo:   repo,
		locker: locker,
		bus:    bus,
		clk:    clk,
	}
}

// IsFree reports whether no blocking appointment for the doctor overlaps the
// interval. Advisory outside the lock: only Commit's re-check decides.
func (l *Ledger) IsFree(ctx context.Context, doctorID uuid.UUID, iv schedule.Interval) (bool, error) {
	blocking, err := l.repo.ListBlocking(ctx, doctorID, iv, l.clk.Now())
	if err != nil {
		return false, fmt.Errorf("list blocking appointments: %w", err)
	}
	return len(blocking) == 0, nil
}

// Commit atomically re-checks the interval and inserts the appointment. On
// ErrConflict nothing was mutated.
func (l *Ledger) Commit(ctx context.Context, a *Appointment) error {
	err := l.locker.WithDoctorLock(ctx, a.DoctorID, func(lockCtx context.Context) error {
		blocking, err := l.repo.ListBlocking(lockCtx, a.DoctorID, a.Interval(), l.clk.Now())
		if err != nil {
			return fmt.Errorf("re-check availability: %w", err)
		}
		if len(blocking) > 0 {
			return ErrConflict
		}

		if err := l.repo.InsertAppointment(lockCtx, a); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return nil
	})

	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrDoctorBusy
	}
	return err
}

// Cancel transitions a confirmed or pending appointment to cancelled and
// publishes a capacity-freed event. Cancelling an appointment that does not
// exist or is already cancelled returns ErrAppointmentNotFound and emits
// nothing, so re-issued cancellations have no second side effect.
func (l *Ledger) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return l.release(ctx, id, events.ReasonCancellation)
}

// ReleaseHold cancels an expired pending hold, freeing its slot. Same
// mechanics as Cancel but tagged so downstream consumers can tell the two
// apart.
func (l *Ledger) ReleaseHold(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return l.release(ctx, id, events.ReasonHoldExpired)
}

func (l *Ledger) release(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := l.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Status != StatusConfirmed && appt.Status != StatusPending {
		return nil, ErrAppointmentNotFound
	}

	// CAS from the observed status; a racing transition makes this a no-op
	// that surfaces as ErrAppointmentNotFound.
	updated, err := l.repo.UpdateAppointmentStatus(ctx, id, appt.Status, StatusCancelled)
	if err != nil {
		return nil, err
	}

	l.publishFreed(ctx, updated, reason)
	return updated, nil
}

// Confirm moves a pending hold to confirmed. Rejects holds whose expiry has
// passed even if the sweep has not caught them yet.
func (l *Ledger) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := l.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Status != StatusPending {
		return nil, ErrInvalidStatusTransition
	}
	if appt.ExpiresAt != nil && !l.clk.Now().Before(*appt.ExpiresAt) {
		return nil, ErrHoldExpired
	}

	return l.repo.UpdateAppointmentStatus(ctx, id, StatusPending, StatusConfirmed)
}

// Complete marks a confirmed appointment as completed.
func (l *Ledger) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return l.conclude(ctx, id, StatusCompleted)
}

// MarkNoShow marks a confirmed appointment as a no-show. The interval is past
// by then, so no capacity-freed event is emitted.
func (l *Ledger) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return l.conclude(ctx, id, StatusNoShow)
}

func (l *Ledger) conclude(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	appt, err := l.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusConfirmed {
		return nil, ErrInvalidStatusTransition
	}
	return l.repo.UpdateAppointmentStatus(ctx, id, StatusConfirmed, to)
}

// PublishFreedSlot announces a newly bookable interval that did not come from
// a cancellation, e.g. one opened by a schedule revision.
func (l *Ledger) PublishFreedSlot(ctx context.Context, doctorID uuid.UUID, iv schedule.Interval, reason string) {
	l.publish(ctx, doctorID, iv, reason)
}

func (l *Ledger) publishFreed(ctx context.Context, a *Appointment, reason string) {
	l.publish(ctx, a.DoctorID, a.Interval(), reason)
}

func (l *Ledger) publish(ctx context.Context, doctorID uuid.UUID, iv schedule.Interval, reason string) {
	ev := events.CapacityFreed{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		Start:     iv.Start,
		End:       iv.End,
		Reason:    reason,
		EmittedAt: l.clk.Now(),
	}

	if err := l.bus.Publish(ctx, ev); err != nil {
		log.Error().Err(err).
			Str("doctor_id", doctorID.String()).
			Str("reason", reason).
			Msg("publish capacity-freed event")
	}
}
