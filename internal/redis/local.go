package redisclient

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// localDoctorLocker serializes per doctor with in-process mutexes. Sufficient
// when a single process owns all commits; also what tests use.
type localDoctorLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewLocalDoctorLocker() Locker {
	return &localDoctorLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *localDoctorLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[doctorID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[doctorID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
