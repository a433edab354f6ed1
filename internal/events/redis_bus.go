package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const capacityFreedChannel = "allocation:capacity_freed"

// RedisBus carries capacity-freed events over Redis pub/sub so the matcher can
// live in a different process than the API server.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, ev CapacityFreed) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal capacity-freed event: %w", err)
	}

	if err := b.client.Publish(ctx, capacityFreedChannel, data).Err(); err != nil {
		return fmt.Errorf("publish capacity-freed event: %w", err)
	}

	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan CapacityFreed, error) {
	pubsub := b.client.Subscribe(ctx, capacityFreedChannel)

	// Force the subscription before handing back the channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe capacity-freed channel: %w", err)
	}

	out := make(chan CapacityFreed, 128)

	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev CapacityFreed
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Error().Err(err).Msg("unmarshal capacity-freed event")
					continue
				}

				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
