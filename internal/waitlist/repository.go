package waitlist

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrEntryNotFound = errors.New("waitlist entry not found")
)

// Repository contains all store interactions needed by the queue and the
// matcher.
type Repository interface {
	InsertEntry(ctx context.Context, e *Entry) error
	GetEntryByID(ctx context.Context, id uuid.UUID) (*Entry, error)

	// ListWaiting returns the waiting entries in allocation order (tier rank,
	// then enqueue time). A live read of current state, not a snapshot.
	ListWaiting(ctx context.Context) ([]Entry, error)

	// ListAllocated returns entries whose hold is outstanding; the expiry
	// sweep walks them.
	ListAllocated(ctx context.Context) ([]Entry, error)

	// UpdateEntryStatus transitions id from one status to another atomically;
	// ErrEntryNotFound if the row is missing or not in the from status.
	UpdateEntryStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Entry, error)

	// SetEntryTier changes the tier of a waiting entry. Enqueue time is never
	// touched, so movement within a tier is impossible by construction.
	SetEntryTier(ctx context.Context, id uuid.UUID, tier Tier) (*Entry, error)

	// SetEntryAllocation records (or clears) the appointment an entry
	// produced together with the matching status transition, atomically
	// conditioned on the current status; ErrEntryNotFound if the row is
	// missing or not in the from status. The matcher reads the queue and
	// writes the allocation in separate steps, so a withdrawal or a
	// competing replica may have moved the entry in between.
	SetEntryAllocation(ctx context.Context, id uuid.UUID, appointmentID *uuid.UUID, from, to Status) (*Entry, error)
}
