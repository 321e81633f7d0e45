package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"evalhub/pkg/logger"
)

// RedisBroker publishes events over Redis pub/sub. The client is injected;
// connection lifecycle belongs to the caller.
type RedisBroker struct {
	client *redis.Client
	log    *logger.Logger
}

func NewRedisBroker(client *redis.Client, log *logger.Logger) *RedisBroker {
	return &RedisBroker{client: client, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.client.Publish(ctx, channel, data).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	pubsub := b.client.Subscribe(ctx, channel)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for msg := range ch {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.log.Errorf("event unmarshal on %s: %v", channel, err)
				continue
			}
			if err := handler(ctx, event); err != nil {
				b.log.Errorf("event handler on %s: %v", channel, err)
			}
		}
	}()

	return nil
}
