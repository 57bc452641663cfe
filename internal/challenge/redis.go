package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Cache = (*Redis)(nil)

// Redis is a Cache backed by a shared Redis instance, for deployments where
// the options and verify requests of one ceremony may land on different
// processes. GETDEL makes the take-once race safe across instances.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed challenge cache.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		prefix: "challenge:",
	}
}

func (r *Redis) key(purpose Purpose, subjectID string) string {
	return r.prefix + string(purpose) + ":" + subjectID
}

func (r *Redis) Put(ctx context.Context, purpose Purpose, subjectID string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := r.client.Set(ctx, r.key(purpose, subjectID), value, ttl).Err(); err != nil {
		return fmt.Errorf("challenge: store: %w", err)
	}
	return nil
}

func (r *Redis) TakeOnce(ctx context.Context, purpose Purpose, subjectID string) ([]byte, error) {
	val, err := r.client.GetDel(ctx, r.key(purpose, subjectID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("challenge: take: %w", err)
	}
	return val, nil
}

func (r *Redis) Invalidate(ctx context.Context, purpose Purpose, subjectID string) error {
	if err := r.client.Del(ctx, r.key(purpose, subjectID)).Err(); err != nil {
		return fmt.Errorf("challenge: invalidate: %w", err)
	}
	return nil
}
