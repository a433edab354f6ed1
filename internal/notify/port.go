package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Allocation is the data record handed to downstream messaging when a
// waitlist entry is matched against freed capacity. Rendering is someone
// else's problem.
type Allocation struct {
	EntryID       uuid.UUID
	PatientID     uuid.UUID
	ServiceID     uuid.UUID
	DoctorID      uuid.UUID
	AppointmentID uuid.UUID
	Start         time.Time
	End           time.Time
	HoldExpiry    time.Time
}

// Booking is the record for a direct, immediately confirmed booking.
type Booking struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	ServiceID     uuid.UUID
	DoctorID      uuid.UUID
	Start         time.Time
	End           time.Time
}

// Port is the outbound notification boundary. Implementations must not block
// the allocation path; failures are theirs to retry.
type Port interface {
	OnAllocationProposed(ctx context.Context, a Allocation)
	OnAllocationConfirmed(ctx context.Context, a Allocation)
	OnAllocationExpired(ctx context.Context, a Allocation)
	OnBookingConfirmed(ctx context.Context, b Booking)
}
