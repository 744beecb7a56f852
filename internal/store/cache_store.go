package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisStore é o cache de produtos. Operations return success only; no
// retry happens here. The processor's invalidation policy tolerates set
// failures, so a broken connection degrades to cache misses rather than
// stale reads.
type RedisStore struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedisStore creates a store for the given host:port address. The
// go-redis client reconnects on its own after connection loss.
func NewRedisStore(addr string, logger *logrus.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{Addr: addr})

	logger.WithField("address", addr).Info("Redis store initialized")

	return &RedisStore{client: client, logger: logger}
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Set stores a value under key, reporting success.
func (s *RedisStore) Set(ctx context.Context, key, value string) bool {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Cache set failed")
		return false
	}
	return true
}

// Del removes a key, reporting success. Deleting a missing key is
// success.
func (s *RedisStore) Del(ctx context.Context, key string) bool {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Cache delete failed")
		return false
	}
	return true
}

// Get returns the value for key, or the empty string when the key is
// absent or the cache is unreachable.
func (s *RedisStore) Get(ctx context.Context, key string) string {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.WithError(err).WithField("key", key).Warn("Cache get failed")
		}
		return ""
	}
	return value
}

// Close releases the underlying connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
