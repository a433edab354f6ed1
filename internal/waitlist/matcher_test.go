package waitlist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinova/allocation-engine/internal/booking"
	"github.com/clinova/allocation-engine/internal/clock"
	"github.com/clinova/allocation-engine/internal/events"
	"github.com/clinova/allocation-engine/internal/notify"
	redisclient "github.com/clinova/allocation-engine/internal/redis"
	"github.com/clinova/allocation-engine/internal/schedule"
)

type captureBus struct {
	mu     sync.Mutex
	events []events.CapacityFreed
}

func (b *captureBus) Publish(ctx context.Context, ev events.CapacityFreed) error {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	return nil
}

func (b *captureBus) Subscribe(ctx context.Context) (<-chan events.CapacityFreed, error) {
	ch := make(chan events.CapacityFreed)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (b *captureBus) Events() []events.CapacityFreed {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.CapacityFreed, len(b.events))
	copy(out, b.events)
	return out
}

type captureNotifier struct {
	mu        sync.Mutex
	proposed  []notify.Allocation
	confirmed []notify.Allocation
	expired   []notify.Allocation
	bookings  []notify.Booking
}

func (n *captureNotifier) OnAllocationProposed(ctx context.Context, a notify.Allocation) {
	n.mu.Lock()
	n.proposed = append(n.proposed, a)
	n.mu.Unlock()
}

func (n *captureNotifier) OnAllocationConfirmed(ctx context.Context, a notify.Allocation) {
	n.mu.Lock()
	n.confirmed = append(n.confirmed, a)
	n.mu.Unlock()
}

func (n *captureNotifier) OnAllocationExpired(ctx context.Context, a notify.Allocation) {
	n.mu.Lock()
	n.expired = append(n.expired, a)
	n.mu.Unlock()
}

func (n *captureNotifier) OnBookingConfirmed(ctx context.Context, b notify.Booking) {
	n.mu.Lock()
	n.bookings = append(n.bookings, b)
	n.mu.Unlock()
}

// engineFixture wires the whole allocation core on in-memory infrastructure.
type engineFixture struct {
	matcher   *Matcher
	queue     *Queue
	authority *booking.Authority
	ledger    *booking.Ledger
	repo      Repository
	bookRepo  *booking.MemoryRepository
	bus       events.Bus
	notifier  *captureNotifier
	clk       *clock.Fake
	doctor    schedule.Doctor
	service30 schedule.Service
	service60 schedule.Service
	patient   booking.Patient
}

// 2025-06-18 is a Wednesday; June 21/22 that week are the weekend.
var matchDay = time.Date(2025, time.June, 18, 8, 0, 0, 0, time.UTC)

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	return newEngineFixtureWithRepo(t, NewMemoryRepository())
}

func newEngineFixtureWithRepo(t *testing.T, repo Repository) *engineFixture {
	t.Helper()
	return newEngineFixtureWithInfra(t, repo, &captureBus{})
}

func newEngineFixtureWithInfra(t *testing.T, repo Repository, bus events.Bus) *engineFixture {
	t.Helper()

	bookRepo := booking.NewMemoryRepository()
	notifier := &captureNotifier{}
	clk := clock.NewFake(matchDay)

	ledger := booking.NewLedger(bookRepo, redisclient.NewLocalDoctorLocker(), bus, clk)
	authority := booking.NewAuthority(bookRepo, ledger, notifier, clk, 2*time.Hour)
	queue := NewQueue(repo, clk)
	matcher := NewMatcher(queue, repo, bookRepo, authority, ledger, notifier, clk)

	doctor := schedule.Doctor{
		ID:        uuid.New(),
		Name:      "Dr. Mensah",
		Specialty: "Cardiology",
		Calendar: schedule.Calendar{
			DayStart:    9 * 60,
			DayEnd:      17 * 60,
			DaysOff:     map[time.Weekday]bool{},
			SlotMinutes: 30,
		},
	}
	service30 := schedule.Service{ID: uuid.New(), Name: "Consult", Category: "Cardiology", DurationMinutes: 30}
	service60 := schedule.Service{ID: uuid.New(), Name: "Echo", Category: "Cardiology", DurationMinutes: 60}
	patient := booking.Patient{ID: uuid.New(), Name: "Amara Eze"}

	bookRepo.PutDoctor(doctor)
	bookRepo.PutService(service30)
	bookRepo.PutService(service60)
	bookRepo.PutPatient(patient)

	return &engineFixture{
		matcher:   matcher,
		queue:     queue,
		authority: authority,
		ledger:    ledger,
		repo:      repo,
		bookRepo:  bookRepo,
		bus:       bus,
		notifier:  notifier,
		clk:       clk,
		doctor:    doctor,
		service30: service30,
		service60: service60,
		patient:   patient,
	}
}

func (f *engineFixture) newPatient() booking.Patient {
	p := booking.Patient{ID: uuid.New(), Name: "Test Patient"}
	f.bookRepo.PutPatient(p)
	return p
}

func (f *engineFixture) enqueue(t *testing.T, tier Tier, flex Flexibility, days ...DayRequest) *Entry {
	t.Helper()
	p := f.newPatient()
	e, err := f.queue.Enqueue(context.Background(), Registration{
		PatientID:   p.ID,
		ServiceID:   f.service30.ID,
		Days:        days,
		Flexibility: flex,
		Tier:        tier,
	})
	require.NoError(t, err)
	f.clk.Advance(time.Second)
	return e
}

func (f *engineFixture) freedEvent(start time.Time, minutes int) events.CapacityFreed {
	return events.CapacityFreed{
		ID:       uuid.New(),
		DoctorID: f.doctor.ID,
		Start:    start,
		End:      start.Add(time.Duration(minutes) * time.Minute),
		Reason:   events.ReasonCancellation,
	}
}

func day(d int) time.Time {
	return time.Date(2025, time.June, d, 0, 0, 0, 0, time.UTC)
}

func TestMatcher_RigidMatchesExactDayAndPeriod(t *testing.T) {
	f := newEngineFixture(t)

	entry := &Entry{
		Days:        []DayRequest{{Day: day(21), Periods: []Period{PeriodMorning}}},
		Flexibility: Flexibility{Mode: FlexRigid},
	}

	assert.True(t, f.matcher.Matches(entry, day(21).Add(10*time.Hour)))
	assert.False(t, f.matcher.Matches(entry, day(21).Add(14*time.Hour)), "afternoon must not match a morning-only request")
	assert.False(t, f.matcher.Matches(entry, day(22).Add(10*time.Hour)), "another date must not match")
}

func TestMatcher_FlexibleWithinDays(t *testing.T) {
	f := newEngineFixture(t)

	entry := &Entry{
		Days:        []DayRequest{{Day: day(21), Periods: []Period{PeriodMorning}}},
		Flexibility: Flexibility{Mode: FlexWithinDays, WindowDays: 1},
	}

	assert.True(t, f.matcher.Matches(entry, day(20).Add(10*time.Hour)))
	assert.True(t, f.matcher.Matches(entry, day(22).Add(10*time.Hour)))
	assert.False(t, f.matcher.Matches(entry, day(23).Add(10*time.Hour)))
	// Flexible entries accept any period.
	assert.True(t, f.matcher.Matches(entry, day(22).Add(15*time.Hour)))
}

func TestMatcher_WeekendOnly(t *testing.T) {
	f := newEngineFixture(t)

	entry := &Entry{Flexibility: Flexibility{Mode: FlexWeekendOnly}}

	assert.True(t, f.matcher.Matches(entry, day(21).Add(10*time.Hour)), "June 21 2025 is a Saturday")
	assert.True(t, f.matcher.Matches(entry, day(22).Add(10*time.Hour)), "June 22 2025 is a Sunday")
	assert.False(t, f.matcher.Matches(entry, day(20).Add(10*time.Hour)), "June 20 2025 is a Friday")
}

func TestMatcher_FirstByPriorityWins(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	flex := Flexibility{Mode: FlexRigid}
	request := DayRequest{Day: day(20), Periods: []Period{PeriodMorning}}

	standard := f.enqueue(t, TierStandard, flex, request)
	vip := f.enqueue(t, TierVIP, flex, request)

	err := f.matcher.HandleCapacityFreed(ctx, f.freedEvent(day(20).Add(10*time.Hour), 30))
	require.NoError(t, err)

	// VIP wins despite enqueueing later.
	got, err := f.repo.GetEntryByID(ctx, vip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAllocated, got.Status)
	require.NotNil(t, got.AppointmentID)

	still, err := f.repo.GetEntryByID(ctx, standard.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, still.Status)

	require.Len(t, f.notifier.proposed, 1)
	assert.Equal(t, vip.ID, f.notifier.proposed[0].EntryID)

	// The hold reserves the slot against direct bookings.
	appt, err := f.bookRepo.GetAppointmentByID(ctx, *got.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, appt.Status)
	free, err := f.ledger.IsFree(ctx, f.doctor.ID, appt.Interval())
	require.NoError(t, err)
	assert.False(t, free)
}

func TestMatcher_EqualTierTieBreaksOnEnqueueTime(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	flex := Flexibility{Mode: FlexRigid}
	request := DayRequest{Day: day(20), Periods: []Period{PeriodMorning}}

	first := f.enqueue(t, TierUrgent, flex, request)
	second := f.enqueue(t, TierUrgent, flex, request)

	err := f.matcher.HandleCapacityFreed(ctx, f.freedEvent(day(20).Add(9*time.Hour), 30))
	require.NoError(t, err)

	got, err := f.repo.GetEntryByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAllocated, got.Status)

	still, err := f.repo.GetEntryByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, still.Status)
}

func TestMatcher_ContinuesScanWhenCandidateLosesSlot(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// The VIP entry wants the 60-minute service, which would run into an
	// existing 10:30 booking; the standard entry's 30-minute service fits.
	blocker, err := f.authority.RequestBooking(ctx, booking.BookingRequest{
		DoctorID:  f.doctor.ID,
		ServiceID: f.service30.ID,
		PatientID: f.patient.ID,
		Start:     day(20).Add(10*time.Hour + 30*time.Minute),
	})
	require.NoError(t, err)
	require.NotNil(t, blocker)

	vipPatient := f.newPatient()
	vip, err := f.queue.Enqueue(ctx, Registration{
		PatientID:   vipPatient.ID,
		ServiceID:   f.service60.ID,
		Days:        []DayRequest{{Day: day(20), Periods: []Period{PeriodMorning}}},
		Flexibility: Flexibility{Mode: FlexRigid},
		Tier:        TierVIP,
	})
	require.NoError(t, err)
	f.clk.Advance(time.Second)

	standard := f.enqueue(t, TierStandard, Flexibility{Mode: FlexRigid},
		DayRequest{Day: day(20), Periods: []Period{PeriodMorning}})

	err = f.matcher.HandleCapacityFreed(ctx, f.freedEvent(day(20).Add(10*time.Hour), 30))
	require.NoError(t, err)

	// The VIP candidate lost (its 60-minute booking conflicts) and stays
	// waiting; the standard entry got the slot.
	got, err := f.repo.GetEntryByID(ctx, vip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)

	won, err := f.repo.GetEntryByID(ctx, standard.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAllocated, won.Status)
}

func TestMatcher_NoMatchDropsEvent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.enqueue(t, TierVIP, Flexibility{Mode: FlexRigid},
		DayRequest{Day: day(25), Periods: []Period{PeriodMorning}})

	err := f.matcher.HandleCapacityFreed(ctx, f.freedEvent(day(20).Add(10*time.Hour), 30))
	require.NoError(t, err)

	assert.Empty(t, f.notifier.proposed)

	// The slot stays open for direct booking.
	free, err := f.ledger.IsFree(ctx, f.doctor.ID, schedule.Interval{
		Start: day(20).Add(10 * time.Hour),
		End:   day(20).Add(10*time.Hour + 30*time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, free)
}

func TestMatcher_HoldExpiryReinstatesEntry(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	entry := f.enqueue(t, TierStandard, Flexibility{Mode: FlexRigid},
		DayRequest{Day: day(20), Periods: []Period{PeriodMorning}})

	err := f.matcher.HandleCapacityFreed(ctx, f.freedEvent(day(20).Add(10*time.Hour), 30))
	require.NoError(t, err)

	allocated, err := f.repo.GetEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAllocated, allocated.Status)
	require.NotNil(t, allocated.AppointmentID)
	heldApptID := *allocated.AppointmentID

	// Not yet expired: sweep is a no-op.
	require.NoError(t, f.matcher.ExpireHolds(ctx))
	unchanged, err := f.repo.GetEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAllocated, unchanged.Status)

	f.clk.Advance(3 * time.Hour)
	require.NoError(t, f.matcher.ExpireHolds(ctx))

	// Back to waiting with the original enqueue timestamp.
	reverted, err := f.repo.GetEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, reverted.Status)
	assert.Nil(t, reverted.AppointmentID)
	assert.Equal(t, entry.EnqueuedAt, reverted.EnqueuedAt)

	// The hold appointment is cancelled and a capacity-freed event re-emitted.
	appt, err := f.bookRepo.GetAppointmentByID(ctx, heldApptID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, appt.Status)

	evs := f.bus.(*captureBus).Events()
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, events.ReasonHoldExpired, last.Reason)
	assert.Equal(t, appt.Start, last.Start)

	require.Len(t, f.notifier.expired, 1)
	assert.Equal(t, entry.ID, f.notifier.expired[0].EntryID)

	// An unrelated patient can book the freed slot directly.
	other := f.newPatient()
	_, err = f.authority.RequestBooking(ctx, booking.BookingRequest{
		DoctorID:  f.doctor.ID,
		ServiceID: f.service30.ID,
		PatientID: other.ID,
		Start:     day(20).Add(10 * time.Hour),
	})
	assert.NoError(t, err)
}

func TestMatcher_ConfirmHold(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	entry := f.enqueue(t, TierStandard, Flexibility{Mode: FlexRigid},
		DayRequest{Day: day(20), Periods: []Period{PeriodMorning}})

	// Confirming an entry without a hold fails.
	_, err := f.matcher.ConfirmHold(ctx, entry.ID)
	assert.ErrorIs(t, err, ErrNoHold)

	err = f.matcher.HandleCapacityFreed(ctx, f.freedEvent(day(20).Add(10*time.Hour), 30))
	require.NoError(t, err)

	appt, err := f.matcher.ConfirmHold(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, appt.Status)

	require.Len(t, f.notifier.confirmed, 1)
	assert.Equal(t, entry.ID, f.notifier.confirmed[0].EntryID)

	// Once confirmed the sweep must leave it alone.
	f.clk.Advance(3 * time.Hour)
	require.NoError(t, f.matcher.ExpireHolds(ctx))
	got, err := f.repo.GetEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAllocated, got.Status)
}

// withdrawOnScanRepo withdraws the target entry right after the matcher reads
// the queue, reproducing a withdrawal racing the allocation write.
type withdrawOnScanRepo struct {
	*MemoryRepository
	entryID uuid.UUID
	once    sync.Once
}

func (r *withdrawOnScanRepo) ListWaiting(ctx context.Context) ([]Entry, error) {
	entries, err := r.MemoryRepository.ListWaiting(ctx)
	r.once.Do(func() {
		_, _ = r.MemoryRepository.UpdateEntryStatus(ctx, r.entryID, StatusWaiting, StatusWithdrawn)
	})
	return entries, err
}

func TestMatcher_WithdrawalDuringScanDoesNotAllocate(t *testing.T) {
	repo := &withdrawOnScanRepo{MemoryRepository: NewMemoryRepository()}
	f := newEngineFixtureWithRepo(t, repo)
	ctx := context.Background()

	entry := f.enqueue(t, TierVIP, Flexibility{Mode: FlexRigid},
		DayRequest{Day: day(20), Periods: []Period{PeriodMorning}})
	repo.entryID = entry.ID

	err := f.matcher.HandleCapacityFreed(ctx, f.freedEvent(day(20).Add(10*time.Hour), 30))
	require.NoError(t, err)

	// The entry stays withdrawn and never references an appointment.
	got, err := repo.GetEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWithdrawn, got.Status)
	assert.Nil(t, got.AppointmentID)
	assert.Empty(t, f.notifier.proposed)

	// The short-lived hold was given back; the slot is open again.
	free, err := f.ledger.IsFree(ctx, f.doctor.ID, schedule.Interval{
		Start: day(20).Add(10 * time.Hour),
		End:   day(20).Add(10*time.Hour + 30*time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, free)
}

func TestMemoryRepository_SetEntryAllocationRequiresStatus(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	entry := f.enqueue(t, TierStandard, Flexibility{Mode: FlexRigid},
		DayRequest{Day: day(20), Periods: []Period{PeriodMorning}})

	_, err := f.queue.Withdraw(ctx, entry.ID)
	require.NoError(t, err)

	apptID := uuid.New()
	_, err = f.repo.SetEntryAllocation(ctx, entry.ID, &apptID, StatusWaiting, StatusAllocated)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	got, err := f.repo.GetEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWithdrawn, got.Status)
	assert.Nil(t, got.AppointmentID)
}

func TestMatcher_CancelledAllocationDoesNotResurrectEntry(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	entry := f.enqueue(t, TierStandard, Flexibility{Mode: FlexRigid},
		DayRequest{Day: day(20), Periods: []Period{PeriodMorning}})

	err := f.matcher.HandleCapacityFreed(ctx, f.freedEvent(day(20).Add(10*time.Hour), 30))
	require.NoError(t, err)

	allocated, err := f.repo.GetEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, allocated.AppointmentID)

	appt, err := f.matcher.ConfirmHold(ctx, entry.ID)
	require.NoError(t, err)

	// Explicit cancellation of the produced appointment leaves the entry
	// allocated; re-enqueueing is a separate, deliberate action.
	_, err = f.ledger.Cancel(ctx, appt.ID)
	require.NoError(t, err)

	got, err := f.repo.GetEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAllocated, got.Status)

	// The sweep does not touch it either: the appointment is cancelled, not
	// an expired pending hold.
	f.clk.Advance(24 * time.Hour)
	require.NoError(t, f.matcher.ExpireHolds(ctx))
	got, err = f.repo.GetEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAllocated, got.Status)
}

func TestMatcher_RunConsumesCancellationEvents(t *testing.T) {
	f := newEngineFixtureWithInfra(t, NewMemoryRepository(), events.NewChannelBus())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = f.matcher.Run(ctx, f.bus) }()
	// Give the consumer a beat to subscribe before anything publishes.
	time.Sleep(50 * time.Millisecond)

	booked, err := f.authority.RequestBooking(ctx, booking.BookingRequest{
		DoctorID:  f.doctor.ID,
		ServiceID: f.service30.ID,
		PatientID: f.patient.ID,
		Start:     day(20).Add(10 * time.Hour),
	})
	require.NoError(t, err)

	entry := f.enqueue(t, TierStandard, Flexibility{Mode: FlexRigid},
		DayRequest{Day: day(20), Periods: []Period{PeriodMorning}})

	_, err = f.ledger.Cancel(ctx, booked.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.repo.GetEntryByID(ctx, entry.ID)
		return err == nil && got.Status == StatusAllocated
	}, 2*time.Second, 10*time.Millisecond, "cancellation event never reached the matcher")
}
