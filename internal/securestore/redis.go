package securestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps values as fields of one redis hash, so a fleet of
// clients sharing an identity also share its tokens.
type RedisStore struct {
	client *redis.Client
	hash   string
}

// OpenRedis connects to the redis server at url.
func OpenRedis(url, namespace string) (*RedisStore, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required for the redis backend")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	return NewRedisStore(redis.NewClient(opts), namespace), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{client: client, hash: namespace + ":tokens"}
}

// Get returns the hash field for key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("reading redis: %w", err)
	}

	return v, true, nil
}

// Set writes the hash field for key.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.HSet(ctx, s.hash, key, value).Err(); err != nil {
		return fmt.Errorf("writing redis: %w", err)
	}

	return nil
}

// RemoveAll deletes the whole hash.
func (s *RedisStore) RemoveAll(ctx context.Context) error {
	if err := s.client.Del(ctx, s.hash).Err(); err != nil {
		return fmt.Errorf("clearing redis: %w", err)
	}

	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
