package waitlist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinova/allocation-engine/internal/clock"
)

var (
	ErrInvalidTier        = errors.New("invalid priority tier")
	ErrInvalidFlexibility = errors.New("invalid flexibility mode")
	ErrNoRequestedDays    = errors.New("at least one requested day is required")
)

// Registration is the inbound shape of a waitlist request.
type Registration struct {
	PatientID   uuid.UUID
	ServiceID   uuid.UUID
	Days        []DayRequest
	Flexibility Flexibility
	Tier        Tier
}

// Queue owns waitlist entries and their allocation order. Enqueue timestamps
// are assigned here and are strictly monotonic, so the (tier, enqueue time)
// comparator never ties.
type Queue struct {
	repo Repository
	clk  clock.Clock

	mu   sync.Mutex
	last time.Time
}

func NewQueue(repo Repository, clk clock.Clock) *Queue {
	return &Queue{repo: repo, clk: clk}
}

// Enqueue registers a new waiting entry.
func (q *Queue) Enqueue(ctx context.Context, reg Registration) (*Entry, error) {
	if !reg.Tier.Valid() {
		return nil, ErrInvalidTier
	}
	switch reg.Flexibility.Mode {
	case FlexRigid, FlexWeekendOnly:
	case FlexWithinDays:
		if reg.Flexibility.WindowDays < 0 {
			return nil, ErrInvalidFlexibility
		}
	default:
		return nil, ErrInvalidFlexibility
	}
	if len(reg.Days) == 0 && reg.Flexibility.Mode != FlexWeekendOnly {
		return nil, ErrNoRequestedDays
	}

	days := make([]DayRequest, 0, len(reg.Days))
	for _, d := range reg.Days {
		periods := d.Periods
		if len(periods) == 0 {
			periods = []Period{PeriodMorning, PeriodAfternoon}
		}
		days = append(days, DayRequest{Day: dateOnlyUTC(d.Day), Periods: periods})
	}

	now := q.nextTimestamp()
	entry := &Entry{
		ID:          uuid.New(),
		PatientID:   reg.PatientID,
		ServiceID:   reg.ServiceID,
		Days:        days,
		Flexibility: reg.Flexibility,
		Tier:        reg.Tier,
		EnqueuedAt:  now,
		Status:      StatusWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := q.repo.InsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("enqueue waitlist entry: %w", err)
	}
	return entry, nil
}

// Withdraw removes a waiting entry at the patient's or staff's request.
// Withdrawing an entry that is not waiting returns ErrEntryNotFound.
func (q *Queue) Withdraw(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return q.repo.UpdateEntryStatus(ctx, id, StatusWaiting, StatusWithdrawn)
}

// Reprioritize moves a waiting entry to another tier. Enqueue time is left
// alone: position within a tier cannot be adjusted, only the tier itself.
func (q *Queue) Reprioritize(ctx context.Context, id uuid.UUID, tier Tier) (*Entry, error) {
	if !tier.Valid() {
		return nil, ErrInvalidTier
	}
	return q.repo.SetEntryTier(ctx, id, tier)
}

// OrderedWaiting returns the waiting entries in allocation order, reflecting
// current state at the time of the call.
func (q *Queue) OrderedWaiting(ctx context.Context) ([]Entry, error) {
	return q.repo.ListWaiting(ctx)
}

func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return q.repo.GetEntryByID(ctx, id)
}

// nextTimestamp returns a clock reading strictly after every previous one.
func (q *Queue) nextTimestamp() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clk.Now()
	if !now.After(q.last) {
		now = q.last.Add(time.Microsecond)
	}
	q.last = now
	return now
}

func dateOnlyUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
