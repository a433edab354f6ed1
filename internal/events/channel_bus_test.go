package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelBus_FanOut(t *testing.T) {
	bus := NewChannelBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	second, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	ev := CapacityFreed{
		ID:       uuid.New(),
		DoctorID: uuid.New(),
		Start:    time.Date(2025, time.June, 20, 10, 0, 0, 0, time.UTC),
		End:      time.Date(2025, time.June, 20, 10, 30, 0, 0, time.UTC),
		Reason:   ReasonCancellation,
	}
	require.NoError(t, bus.Publish(ctx, ev))

	for _, ch := range []<-chan CapacityFreed{first, second} {
		select {
		case got := <-ch:
			assert.Equal(t, ev.ID, got.ID)
			assert.Equal(t, ev.Reason, got.Reason)
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the event")
		}
	}
}

func TestChannelBus_UnsubscribesOnContextCancel(t *testing.T) {
	bus := NewChannelBus()

	subCtx, cancelSub := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(subCtx)
	require.NoError(t, err)
	cancelSub()

	require.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.subscribers) == 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), CapacityFreed{ID: uuid.New()}))
	select {
	case ev := <-ch:
		t.Fatalf("received event %s after unsubscribing", ev.ID)
	default:
	}
}

func TestChannelBus_DropsWhenSubscriberFull(t *testing.T) {
	bus := NewChannelBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		require.NoError(t, bus.Publish(ctx, CapacityFreed{ID: uuid.New()}))
	}

	// The buffer holds 128; the overflow is dropped, never blocked on.
	assert.Len(t, ch, 128)
}
