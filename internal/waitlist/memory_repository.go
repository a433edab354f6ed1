package waitlist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[uuid.UUID]Entry)}
}

func (r *MemoryRepository) InsertEntry(ctx context.Context, e *Entry) error {
	r.mu.Lock()
	r.entries[e.ID] = *e
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) GetEntryByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return &e, nil
}

func (r *MemoryRepository) ListWaiting(ctx context.Context) ([]Entry, error) {
	return r.listByStatus(StatusWaiting), nil
}

func (r *MemoryRepository) ListAllocated(ctx context.Context) ([]Entry, error) {
	return r.listByStatus(StatusAllocated), nil
}

func (r *MemoryRepository) listByStatus(status Status) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, e := range r.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return Less(&out[i], &out[j]) })
	return out
}

func (r *MemoryRepository) UpdateEntryStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.Status != from {
		return nil, ErrEntryNotFound
	}

	e.Status = to
	e.UpdatedAt = time.Now()
	r.entries[id] = e
	return &e, nil
}

func (r *MemoryRepository) SetEntryTier(ctx context.Context, id uuid.UUID, tier Tier) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.Status != StatusWaiting {
		return nil, ErrEntryNotFound
	}

	e.Tier = tier
	e.UpdatedAt = time.Now()
	r.entries[id] = e
	return &e, nil
}

func (r *MemoryRepository) SetEntryAllocation(ctx context.Context, id uuid.UUID, appointmentID *uuid.UUID, from, to Status) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.Status != from {
		return nil, ErrEntryNotFound
	}

	e.AppointmentID = appointmentID
	e.Status = to
	e.UpdatedAt = time.Now()
	r.entries[id] = e
	return &e, nil
}
