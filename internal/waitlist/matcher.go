package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/clinova/allocation-engine/internal/booking"
	"github.com/clinova/allocation-engine/internal/clock"
	"github.com/clinova/allocation-engine/internal/events"
	"github.com/clinova/allocation-engine/internal/notify"
)

var (
	ErrNoHold = errors.New("entry has no outstanding hold")
)

// Matcher reacts to capacity-freed events by proposing the freed interval to
// the best-matching waiting entry. Every proposal goes through the allocation
// authority, so the matcher can lose races to direct bookings and simply
// moves on when it does.
type Matcher struct {
	queue       *Queue
	repo        Repository
	bookingRepo booking.Repository
	authority   *booking.Authority
	ledger      *booking.Ledger
	notifier    notify.Port
	clk         clock.Clock
}

func NewMatcher(
	queue *Queue,
	repo Repository,
	bookingRepo booking.Repository,
	authority *booking.Authority,
	ledger *booking.Ledger,
	notifier notify.Port,
	clk clock.Clock,
) *Matcher {
	return &Matcher{
		queue:       queue,
		repo:        repo,
		bookingRepo: bookingRepo,
		authority:   authority,
		ledger:      ledger,
		notifier:    notifier,
		clk:         clk,
	}
}

// Run consumes capacity-freed events until the context ends.
func (m *Matcher) Run(ctx context.Context, bus events.Bus) error {
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe capacity-freed events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := m.HandleCapacityFreed(ctx, ev); err != nil {
				log.Error().Err(err).
					Str("doctor_id", ev.DoctorID.String()).
					Str("reason", ev.Reason).
					Msg("capacity-freed matching aborted")
			}
		}
	}
}

// HandleCapacityFreed scans the queue in allocation order and proposes the
// freed interval to the first entry whose flexibility accepts it. Losing the
// slot to a concurrent booking drops that candidate and continues the scan;
// any other failure aborts, since it points at something systemic. If nothing
// matches the event is dropped and the slot stays open for direct booking.
func (m *Matcher) HandleCapacityFreed(ctx context.Context, ev events.CapacityFreed) error {
	waiting, err := m.queue.OrderedWaiting(ctx)
	if err != nil {
		return fmt.Errorf("read waiting entries: %w", err)
	}

	for i := range waiting {
		entry := &waiting[i]
		if !m.Matches(entry, ev.Start) {
			continue
		}

		appt, err := m.authority.RequestHold(ctx, booking.BookingRequest{
			DoctorID:  ev.DoctorID,
			ServiceID: entry.ServiceID,
			PatientID: entry.PatientID,
			Start:     ev.Start,
		})
		switch {
		case err == nil:
			done, aerr := m.allocate(ctx, entry, appt)
			if aerr != nil {
				return aerr
			}
			if done {
				return nil
			}
			// The entry left the waiting state while the hold was being
			// placed; the hold is released and the scan moves on.
		case errors.Is(err, booking.ErrSlotUnavailable), errors.Is(err, booking.ErrDoctorBusy):
			// Lost a race with a direct booking; the freed capacity is gone.
			log.Info().
				Str("entry_id", entry.ID.String()).
				Str("doctor_id", ev.DoctorID.String()).
				Time("start", ev.Start).
				Msg("freed slot lost to concurrent booking, trying next entry")
		case errors.Is(err, booking.ErrBadSlotGeometry), errors.Is(err, booking.ErrDoctorServiceMismatch):
			// This entry's service does not fit the freed interval; the next
			// one might.
			log.Debug().
				Str("entry_id", entry.ID.String()).
				Str("doctor_id", ev.DoctorID.String()).
				Msg("entry service does not fit freed slot, trying next entry")
		default:
			return fmt.Errorf("propose allocation for entry %s: %w", entry.ID, err)
		}
	}

	return nil
}

func (m *Matcher) allocate(ctx context.Context, entry *Entry, appt *booking.Appointment) (bool, error) {
	apptID := appt.ID
	updated, err := m.repo.SetEntryAllocation(ctx, entry.ID, &apptID, StatusWaiting, StatusAllocated)
	switch {
	case errors.Is(err, ErrEntryNotFound):
		// Withdrawn, or allocated by a competing replica, between the queue
		// scan and this write. Give the hold back so the slot frees up.
		if _, cerr := m.ledger.Cancel(ctx, appt.ID); cerr != nil {
			return false, fmt.Errorf("release hold after losing entry %s: %w", entry.ID, cerr)
		}
		log.Info().
			Str("entry_id", entry.ID.String()).
			Str("appointment_id", appt.ID.String()).
			Msg("entry left waiting state during allocation, hold released")
		return false, nil
	case err != nil:
		return false, fmt.Errorf("mark entry %s allocated: %w", entry.ID, err)
	}

	var holdExpiry time.Time
	if appt.ExpiresAt != nil {
		holdExpiry = *appt.ExpiresAt
	}

	m.notifier.OnAllocationProposed(ctx, notify.Allocation{
		EntryID:       updated.ID,
		PatientID:     updated.PatientID,
		ServiceID:     updated.ServiceID,
		DoctorID:      appt.DoctorID,
		AppointmentID: appt.ID,
		Start:         appt.Start,
		End:           appt.End,
		HoldExpiry:    holdExpiry,
	})

	return true, nil
}

// Matches evaluates the entry's flexibility rule against a candidate start.
func (m *Matcher) Matches(entry *Entry, start time.Time) bool {
	day := dateOnlyUTC(start)
	period := PeriodOf(start)

	switch entry.Flexibility.Mode {
	case FlexRigid:
		for _, req := range entry.Days {
			if req.Day.Equal(day) && req.AcceptsPeriod(period) {
				return true
			}
		}
		return false

	case FlexWithinDays:
		// Any period is acceptable; only the date distance counts.
		for _, req := range entry.Days {
			if daysApart(day, req.Day) <= entry.Flexibility.WindowDays {
				return true
			}
		}
		return false

	case FlexWeekendOnly:
		wd := start.Weekday()
		return wd == time.Saturday || wd == time.Sunday

	default:
		return false
	}
}

// ConfirmHold finalizes a proposed allocation: the patient accepted the slot
// before the hold expired.
func (m *Matcher) ConfirmHold(ctx context.Context, entryID uuid.UUID) (*booking.Appointment, error) {
	entry, err := m.repo.GetEntryByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != StatusAllocated || entry.AppointmentID == nil {
		return nil, ErrNoHold
	}

	appt, err := m.ledger.Confirm(ctx, *entry.AppointmentID)
	if err != nil {
		return nil, err
	}

	m.notifier.OnAllocationConfirmed(ctx, notify.Allocation{
		EntryID:       entry.ID,
		PatientID:     entry.PatientID,
		ServiceID:     entry.ServiceID,
		DoctorID:      appt.DoctorID,
		AppointmentID: appt.ID,
		Start:         appt.Start,
		End:           appt.End,
	})

	return appt, nil
}

// ExpireHolds releases every hold whose confirmation window has passed: the
// appointment is cancelled (re-emitting a capacity-freed event so matching
// re-runs) and the entry returns to waiting with its original enqueue
// timestamp, unpenalized for the missed window. Intended to be called by the
// worker periodically.
func (m *Matcher) ExpireHolds(ctx context.Context) error {
	allocated, err := m.repo.ListAllocated(ctx)
	if err != nil {
		return fmt.Errorf("list allocated entries: %w", err)
	}

	now := m.clk.Now()
	for i := range allocated {
		entry := &allocated[i]
		if entry.AppointmentID == nil {
			continue
		}

		appt, err := m.bookingRepo.GetAppointmentByID(ctx, *entry.AppointmentID)
		if err != nil {
			log.Error().Err(err).
				Str("entry_id", entry.ID.String()).
				Msg("load hold appointment")
			continue
		}

		if appt.Status != booking.StatusPending || appt.ExpiresAt == nil || now.Before(*appt.ExpiresAt) {
			continue
		}

		if _, err := m.ledger.ReleaseHold(ctx, appt.ID); err != nil {
			// NotFound here means a racing transition won; either way the
			// entry is not silently resurrected.
			log.Error().Err(err).
				Str("entry_id", entry.ID.String()).
				Str("appointment_id", appt.ID.String()).
				Msg("release expired hold")
			continue
		}

		reverted, err := m.repo.SetEntryAllocation(ctx, entry.ID, nil, StatusAllocated, StatusWaiting)
		if err != nil {
			log.Error().Err(err).
				Str("entry_id", entry.ID.String()).
				Msg("revert entry to waiting")
			continue
		}

		m.notifier.OnAllocationExpired(ctx, notify.Allocation{
			EntryID:       reverted.ID,
			PatientID:     reverted.PatientID,
			ServiceID:     reverted.ServiceID,
			DoctorID:      appt.DoctorID,
			AppointmentID: appt.ID,
			Start:         appt.Start,
			End:           appt.End,
		})
	}

	return nil
}

func daysApart(a, b time.Time) int {
	d := int(a.Sub(b).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}
