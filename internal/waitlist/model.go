package waitlist

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusAllocated Status = "allocated"
	StatusExpired   Status = "expired"
	StatusWithdrawn Status = "withdrawn"
)

type Tier string

const (
	TierVIP      Tier = "vip"
	TierUrgent   Tier = "urgent"
	TierStandard Tier = "standard"
)

// Rank is the tier's position in allocation order; lower sorts first.
func (t Tier) Rank() int {
	switch t {
	case TierVIP:
		return 0
	case TierUrgent:
		return 1
	default:
		return 2
	}
}

func (t Tier) Valid() bool {
	switch t {
	case TierVIP, TierUrgent, TierStandard:
		return true
	}
	return false
}

type Period string

const (
	PeriodMorning   Period = "morning"
	PeriodAfternoon Period = "afternoon"
)

// PeriodOf buckets an instant: before 13:00 is morning, the rest is
// afternoon. The same boundary is used at registration and at match time.
func PeriodOf(t time.Time) Period {
	if t.Hour() < 13 {
		return PeriodMorning
	}
	return PeriodAfternoon
}

type FlexibilityMode string

const (
	FlexRigid       FlexibilityMode = "rigid"
	FlexWithinDays  FlexibilityMode = "flexible_within_days"
	FlexWeekendOnly FlexibilityMode = "weekend_only"
)

// Flexibility governs how far a candidate slot may deviate from the entry's
// requested days and still count as a match. WindowDays only applies to
// FlexWithinDays.
type Flexibility struct {
	Mode       FlexibilityMode
	WindowDays int
}

// DayRequest is one requested calendar date with its acceptable periods.
// Dates are stored at midnight UTC.
type DayRequest struct {
	Day     time.Time
	Periods []Period
}

func (d DayRequest) AcceptsPeriod(p Period) bool {
	for _, dp := range d.Periods {
		if dp == p {
			return true
		}
	}
	return false
}

// Entry is a pending waitlist request. EnqueuedAt is engine-assigned and
// strictly monotonic within the queue, so (tier, EnqueuedAt) is a total
// order.
type Entry struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	ServiceID     uuid.UUID
	Days          []DayRequest
	Flexibility   Flexibility
	Tier          Tier
	EnqueuedAt    time.Time
	Status        Status
	AppointmentID *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Less is the allocation-order comparator: tier rank ascending, then enqueue
// time ascending.
func Less(a, b *Entry) bool {
	if a.Tier.Rank() != b.Tier.Rank() {
		return a.Tier.Rank() < b.Tier.Rank()
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}
