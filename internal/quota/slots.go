package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"recast/internal/config"
)

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Incr(context.Context, string) *redis.IntCmd
	Decr(context.Context, string) *redis.IntCmd
	Expire(context.Context, string, time.Duration) *redis.BoolCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
}

// SlotLimiter bounds concurrent tasks per tenant across processes.
type SlotLimiter interface {
	Acquire(ctx context.Context, tenant string, limit int) (bool, error)
	Release(ctx context.Context, tenant string) error
}

// RedisSlots keeps one counter per tenant. Acquire increments first and backs
// out when the new value exceeds the limit, so two racers never both pass.
type RedisSlots struct {
	store  cmdable
	raw    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSlots connects to Redis and verifies connectivity.
func NewRedisSlots(ctx context.Context, cfg config.Redis) (*RedisSlots, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	raw := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisSlots{
		store:  raw,
		raw:    raw,
		prefix: cfg.KeyPrefix,
		ttl:    time.Duration(cfg.SlotTTL) * time.Second,
	}, nil
}

func (r *RedisSlots) key(tenant string) string {
	return fmt.Sprintf("%s:%s:slots", r.prefix, tenant)
}

// Acquire takes one slot when fewer than limit are held. A non-positive
// limit always succeeds without touching Redis.
func (r *RedisSlots) Acquire(ctx context.Context, tenant string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	key := r.key(tenant)
	count, err := r.store.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("acquire slot: %w", err)
	}
	if r.ttl > 0 {
		// Counters of crashed workers expire instead of leaking forever.
		if err := r.store.Expire(ctx, key, r.ttl).Err(); err != nil {
			return false, fmt.Errorf("refresh slot ttl: %w", err)
		}
	}
	if count > int64(limit) {
		if err := r.store.Decr(ctx, key).Err(); err != nil {
			return false, fmt.Errorf("back out slot: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// Release returns one slot.
func (r *RedisSlots) Release(ctx context.Context, tenant string) error {
	key := r.key(tenant)
	count, err := r.store.Decr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	if count < 0 {
		return r.store.Set(ctx, key, 0, r.ttl).Err()
	}
	return nil
}

// Close releases the connection pool.
func (r *RedisSlots) Close() error {
	if r == nil || r.raw == nil {
		return nil
	}
	return r.raw.Close()
}
