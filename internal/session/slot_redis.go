package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSlot keeps keys under a prefix with no expiry; the client enforces no
// local token lifetime.
type RedisSlot struct {
	client *redis.Client
	prefix string
}

func NewRedisSlot(client *redis.Client, prefix string) (*RedisSlot, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisSlot{client: client, prefix: prefix}, nil
}

func (s *RedisSlot) key(k string) string {
	return s.prefix + k
}

func (s *RedisSlot) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

func (s *RedisSlot) Put(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisSlot) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
