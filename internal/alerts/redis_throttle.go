package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"doorguard/internal/model"
)

// RedisThrottle shares last-sent timestamps between instances.
// Keys expire after ttl; an expired key means the kind is no longer cooling down.
type RedisThrottle struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisThrottle(client *redis.Client, prefix string, ttl time.Duration) *RedisThrottle {
	return &RedisThrottle{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisThrottle) key(kind model.AlertKind) string {
	return r.prefix + string(kind)
}

func (r *RedisThrottle) LastSent(ctx context.Context, kind model.AlertKind) (time.Time, bool, error) {
	val, err := r.client.Get(ctx, r.key(kind)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

func (r *RedisThrottle) MarkSent(ctx context.Context, kind model.AlertKind, at time.Time) error {
	return r.client.Set(ctx, r.key(kind), at.UTC().Format(time.RFC3339Nano), r.ttl).Err()
}

func (r *RedisThrottle) Reset(ctx context.Context) error {
	return r.client.Del(ctx, r.key(model.AlertIntrusion), r.key(model.AlertDoorOpenTooLong)).Err()
}
