package fanout

import (
	"context"

	"github.com/go-redis/redis/v8"

	"boardflow/config"
)

// RedisBroker publishes envelopes onto a Redis pub/sub channel shared
// by every server process.
type RedisBroker struct {
	client  *redis.Client
	channel string
}

func NewRedisBroker(cfg config.RedisConfig) *RedisBroker {
	return &RedisBroker{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channel: cfg.EventChannel,
	}
}

func (b *RedisBroker) Publish(ctx context.Context, payload []byte) error {
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe returns the pub/sub handle the subscriber worker drains.
// Channel membership is connection-scoped; nothing to clean up beyond
// closing the handle.
func (b *RedisBroker) Subscribe(ctx context.Context) *redis.PubSub {
	return b.client.Subscribe(ctx, b.channel)
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
