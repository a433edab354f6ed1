package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinova/allocation-engine/internal/clock"
	"github.com/clinova/allocation-engine/internal/events"
	"github.com/clinova/allocation-engine/internal/notify"
	redisclient "github.com/clinova/allocation-engine/internal/redis"
	"github.com/clinova/allocation-engine/internal/schedule"
)

type fixture struct {
	authority *Authority
	ledger    *Ledger
	repo      *MemoryRepository
	bus       *captureBus
	clk       *clock.Fake
	doctor    schedule.Doctor
	service   schedule.Service
	patient   Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := NewMemoryRepository()
	bus := &captureBus{}
	clk := clock.NewFake(testDay.Add(8 * time.Hour))
	ledger := NewLedger(repo, redisclient.NewLocalDoctorLocker(), bus, clk)
	authority := NewAuthority(repo, ledger, notify.NewLogNotifier(), clk, 2*time.Hour)

	doctor := schedule.Doctor{
		ID:        uuid.New(),
		Name:      "Dr. Adeyemi",
		Specialty: "Cardiology",
		Calendar: schedule.Calendar{
			DayStart:    9 * 60,
			DayEnd:      12 * 60,
			DaysOff:     map[time.Weekday]bool{time.Sunday: true},
			SlotMinutes: 30,
		},
	}
	service := schedule.Service{
		ID:              uuid.New(),
		Name:            "Cardiac consult",
		Category:        "Cardiology",
		DurationMinutes: 30,
	}
	patient := Patient{ID: uuid.New(), Name: "Ngozi Okafor"}

	repo.PutDoctor(doctor)
	repo.PutService(service)
	repo.PutPatient(patient)

	return &fixture{
		authority: authority,
		ledger:    ledger,
		repo:      repo,
		bus:       bus,
		clk:       clk,
		doctor:    doctor,
		service:   service,
		patient:   patient,
	}
}

func (f *fixture) request(start time.Time) BookingRequest {
	return BookingRequest{
		DoctorID:  f.doctor.ID,
		ServiceID: f.service.ID,
		PatientID: f.patient.ID,
		Start:     start,
	}
}

func TestAuthority_DirectBookingIsConfirmedImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.authority.RequestBooking(ctx, f.request(testDay.Add(10*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Equal(t, OriginDirect, appt.Origin)
	assert.Nil(t, appt.ExpiresAt)
}

func TestAuthority_DoubleBookingReturnsSlotUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.authority.RequestBooking(ctx, f.request(testDay.Add(10*time.Hour)))
	require.NoError(t, err)

	_, err = f.authority.RequestBooking(ctx, f.request(testDay.Add(10*time.Hour)))
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestAuthority_RejectsBadGeometry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Off-grid start.
	_, err := f.authority.RequestBooking(ctx, f.request(testDay.Add(10*time.Hour+10*time.Minute)))
	assert.ErrorIs(t, err, ErrBadSlotGeometry)

	// Outside the working window.
	_, err = f.authority.RequestBooking(ctx, f.request(testDay.Add(14*time.Hour)))
	assert.ErrorIs(t, err, ErrBadSlotGeometry)

	// Day off. 2025-06-22 is a Sunday.
	sunday := time.Date(2025, time.June, 22, 10, 0, 0, 0, time.UTC)
	_, err = f.authority.RequestBooking(ctx, f.request(sunday))
	assert.ErrorIs(t, err, ErrBadSlotGeometry)
}

func TestAuthority_RejectsIncompatibleService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	derm := schedule.Service{
		ID:              uuid.New(),
		Name:            "Skin check",
		Category:        "Dermatology",
		DurationMinutes: 30,
	}
	f.repo.PutService(derm)

	req := f.request(testDay.Add(10 * time.Hour))
	req.ServiceID = derm.ID
	_, err := f.authority.RequestBooking(ctx, req)
	assert.ErrorIs(t, err, ErrDoctorServiceMismatch)

	// A general-purpose doctor takes anything.
	f.doctor.GeneralPurpose = true
	f.repo.PutDoctor(f.doctor)
	_, err = f.authority.RequestBooking(ctx, req)
	assert.NoError(t, err)
}

func TestAuthority_UnknownReferencesAreNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request(testDay.Add(10 * time.Hour))
	req.DoctorID = uuid.New()
	_, err := f.authority.RequestBooking(ctx, req)
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	req = f.request(testDay.Add(10 * time.Hour))
	req.ServiceID = uuid.New()
	_, err = f.authority.RequestBooking(ctx, req)
	assert.ErrorIs(t, err, ErrServiceNotFound)

	req = f.request(testDay.Add(10 * time.Hour))
	req.PatientID = uuid.New()
	_, err = f.authority.RequestBooking(ctx, req)
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestAuthority_RequestHoldCarriesExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.authority.RequestHold(ctx, f.request(testDay.Add(10*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, OriginWaitlist, appt.Origin)
	require.NotNil(t, appt.ExpiresAt)
	assert.Equal(t, f.clk.Now().Add(2*time.Hour), *appt.ExpiresAt)
}

func TestAuthority_OpenSlotsReflectsLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	open, err := f.authority.OpenSlots(ctx, f.doctor.ID, f.service.ID, testDay, testDay)
	require.NoError(t, err)
	require.Len(t, open, 6)

	// Booking 10:00 removes exactly that slot.
	_, err = f.authority.RequestBooking(ctx, f.request(testDay.Add(10*time.Hour)))
	require.NoError(t, err)

	open, err = f.authority.OpenSlots(ctx, f.doctor.ID, f.service.ID, testDay, testDay)
	require.NoError(t, err)
	require.Len(t, open, 5)
	for _, s := range open {
		assert.NotEqual(t, testDay.Add(10*time.Hour), s.Interval.Start)
	}
}

func TestAuthority_ScheduleRevisionEmitsFreedSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Occupy 10:00 first; the revision must not announce it.
	_, err := f.authority.RequestBooking(ctx, f.request(testDay.Add(10*time.Hour)))
	require.NoError(t, err)
	booked := f.bus.Events() // booking itself emits nothing
	require.Empty(t, booked)

	cal := f.doctor.Calendar
	cal.DayEnd = 11 * 60 // shrink the day to 09:00-11:00
	_, err = f.authority.PublishScheduleRevision(ctx, f.doctor.ID, cal, 1)
	require.NoError(t, err)

	evs := f.bus.Events()
	require.NotEmpty(t, evs)
	for _, ev := range evs {
		assert.Equal(t, events.ReasonScheduleRevision, ev.Reason)
		assert.Equal(t, f.doctor.ID, ev.DoctorID)
		assert.NotEqual(t, testDay.Add(10*time.Hour), ev.Start, "occupied slot must not be announced")
	}

	updated, err := f.repo.GetDoctorByID(ctx, f.doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.MinuteOfDay(11*60), updated.Calendar.DayEnd)
}
