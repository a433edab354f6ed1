package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CapacityFreed signals that a previously occupied interval for a doctor is
// bookable again: a cancellation, an expired hold, or a slot newly published
// by a schedule revision.
type CapacityFreed struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Reason    string    `json:"reason"`
	EmittedAt time.Time `json:"emitted_at"`
}

const (
	ReasonCancellation     = "cancellation"
	ReasonHoldExpired      = "hold_expired"
	ReasonScheduleRevision = "schedule_revision"
)

// Bus carries capacity-freed events from the ledger to the waitlist matcher.
// The hop is asynchronous: publishers never wait for matching to run, and the
// matcher re-acquires the per-doctor serialization on its own.
type Bus interface {
	Publish(ctx context.Context, ev CapacityFreed) error
	Subscribe(ctx context.Context) (<-chan CapacityFreed, error)
}
