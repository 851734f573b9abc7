package fanout

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexus-im/ghost/internal/metrics"
)

// DefaultChannel is the pub/sub channel shared by all instances.
const DefaultChannel = "ghost:events"

// RedisRelay fans deliveries out to every instance over Redis pub/sub.
type RedisRelay struct {
	client  *redis.Client
	channel string
}

// NewRedisRelay connects to redisURL and verifies the connection.
func NewRedisRelay(ctx context.Context, redisURL string) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisRelay{client: client, channel: DefaultChannel}, nil
}

func (r *RedisRelay) Publish(ctx context.Context, data []byte) error {
	start := time.Now()
	err := r.client.Publish(ctx, r.channel, data).Err()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	return err
}

func (r *RedisRelay) Subscribe(ctx context.Context, handle func([]byte)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() {
		_ = sub.Close()
	}()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return redis.ErrClosed
			}
			handle([]byte(msg.Payload))
		}
	}
}

// Ping checks the Redis connection.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
