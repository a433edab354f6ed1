package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// ChannelBus fans capacity-freed events out to in-process subscribers. It
// backs single-process deployments, where the API server and the matcher
// share a process and Redis is not configured.
type ChannelBus struct {
	mu          sync.RWMutex
	subscribers map[chan CapacityFreed]struct{}
}

func NewChannelBus() *ChannelBus {
	return &ChannelBus{subscribers: make(map[chan CapacityFreed]struct{})}
}

func (b *ChannelBus) Publish(ctx context.Context, ev CapacityFreed) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- ev:
		default:
			log.Warn().
				Str("doctor_id", ev.DoctorID.String()).
				Str("reason", ev.Reason).
				Msg("capacity-freed subscriber full, dropping event")
		}
	}
	return nil
}

func (b *ChannelBus) Subscribe(ctx context.Context) (<-chan CapacityFreed, error) {
	ch := make(chan CapacityFreed, 128)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
	}()

	return ch, nil
}
