package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceTTL = 24 * time.Hour

// RedisTracker keeps a session counter per user in Redis so every instance
// can answer presence for the whole fleet.
type RedisTracker struct {
	client *redis.Client
}

// NewRedisTracker connects to redisURL.
func NewRedisTracker(ctx context.Context, redisURL string) (*RedisTracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisTracker{client: client}, nil
}

// Close closes the Redis connection.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}

func presenceKey(username string) string {
	return fmt.Sprintf("presence:%s:sessions", username)
}

func (t *RedisTracker) Connected(ctx context.Context, username string) error {
	key := presenceKey(username)
	pipe := t.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (t *RedisTracker) Disconnected(ctx context.Context, username string) error {
	key := presenceKey(username)
	n, err := t.client.Decr(ctx, key).Result()
	if err != nil {
		return err
	}
	if n <= 0 {
		return t.client.Del(ctx, key).Err()
	}
	return nil
}

func (t *RedisTracker) Online(ctx context.Context, username string) (bool, error) {
	n, err := t.client.Get(ctx, presenceKey(username)).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ Tracker = (*RedisTracker)(nil)
