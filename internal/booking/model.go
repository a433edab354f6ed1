package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinova/allocation-engine/internal/schedule"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

type Origin string

const (
	OriginDirect   Origin = "direct"
	OriginWaitlist Origin = "waitlist"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment is a committed (or once-committed) claim on a doctor's time.
// Created only through the allocation authority. ExpiresAt is set only on
// waitlist-originated holds, which start pending and must be confirmed before
// expiry.
type Appointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	ServiceID uuid.UUID
	Start     time.Time
	End       time.Time
	Status    Status
	Origin    Origin
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Appointment) Interval() schedule.Interval {
	return schedule.Interval{Start: a.Start, End: a.End}
}

// Blocks reports whether the appointment occupies its interval at the given
// instant: confirmed always, pending only while the hold is unexpired.
func (a *Appointment) Blocks(now time.Time) bool {
	switch a.Status {
	case StatusConfirmed:
		return true
	case StatusPending:
		return a.ExpiresAt == nil || now.Before(*a.ExpiresAt)
	default:
		return false
	}
}
