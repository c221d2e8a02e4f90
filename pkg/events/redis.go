package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Channel carries every job event; ChannelPrefix + job_id carries the
// per-job stream so a log view can subscribe to a single build.
const (
	Channel       = "builds:events"
	ChannelPrefix = "builds:events:"
)

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisPublisher publishes events over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisPublisher{client: client}, nil
}

// JobStatusChanged publishes the event to the shared channel and the
// per-job channel.
func (p *RedisPublisher) JobStatusChanged(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, Channel, payload)
	pipe.Publish(ctx, ChannelPrefix+ev.JobID, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
