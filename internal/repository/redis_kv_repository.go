package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisKVRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisKVRepository returns a Redis-backed store. Keys are namespaced by prefix.
func NewRedisKVRepository(client redis.UniversalClient, prefix string) KeyValueRepository {
	return &redisKVRepository{client: client, prefix: prefix}
}

func (r *redisKVRepository) key(k string) string {
	return r.prefix + k
}

func (r *redisKVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (r *redisKVRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *redisKVRepository) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	return r.client.SetNX(ctx, r.key(key), value, ttl).Result()
}

func (r *redisKVRepository) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.key(k)
	}
	return r.client.Del(ctx, prefixed...).Err()
}

func (r *redisKVRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
