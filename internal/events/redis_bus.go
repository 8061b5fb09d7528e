package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"agentgate/internal/config"
)

const redisStreamCap = 10000

// RedisBus pushes events onto a capped Redis list so external consumers can
// tail gateway lifecycle activity.
type RedisBus struct {
	client *redis.Client
	stream string
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, cfg config.RedisConfig, stream string) (*RedisBus, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if stream == "" {
		stream = "agentgate:events"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisBus{client: client, stream: stream}, nil
}

// Publish encodes the event and pushes it, trimming the list to its cap.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.client.LPush(ctx, b.stream, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return b.client.LTrim(ctx, b.stream, 0, redisStreamCap-1).Err()
}

// Close releases the Redis connection.
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
