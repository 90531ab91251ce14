package prefs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the part of redis.Cmdable RedisKV uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisKV stores one user's values under "<prefix>:<owner>:<key>".
type RedisKV struct {
	rdb    redisClient
	prefix string
}

func NewRedisKV(rdb redis.Cmdable, prefix, owner string) *RedisKV {
	if prefix == "" {
		prefix = "carewire:prefs"
	}
	return &RedisKV{rdb: rdb, prefix: prefix + ":" + owner}
}

func (r *RedisKV) key(k string) string {
	return r.prefix + ":" + k
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("prefs: redis get %s: %w", key, err)
	}
	return v, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("prefs: redis set %s: %w", key, err)
	}
	return nil
}
