package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix is the default namespace for blobs stored in Redis.
const RedisKeyPrefix = "pulse:"

// RedisStorageAdapter stores blobs as Redis strings. Useful when several
// short-lived hosts report under one device identity.
type RedisStorageAdapter struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

var _ StorageAdapter = (*RedisStorageAdapter)(nil)

// NewRedisStorageAdapter wraps an existing client. An empty prefix selects
// RedisKeyPrefix; timeout bounds each call (0 means 5s).
func NewRedisStorageAdapter(client redis.UniversalClient, prefix string, timeout time.Duration) *RedisStorageAdapter {
	if prefix == "" {
		prefix = RedisKeyPrefix
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisStorageAdapter{client: client, prefix: prefix, timeout: timeout}
}

func (r *RedisStorageAdapter) key(key string) string {
	return r.prefix + key
}

// Get returns the blob under key, or nil when absent.
func (r *RedisStorageAdapter) Get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores value under key without expiration.
func (r *RedisStorageAdapter) Set(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.client.Set(ctx, r.key(key), value, 0).Err()
}

// Delete removes key.
func (r *RedisStorageAdapter) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.client.Del(ctx, r.key(key)).Err()
}

// Quarantine renames key to <key>:corrupt:<timestamp>. A missing key is left alone.
func (r *RedisStorageAdapter) Quarantine(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	backup := r.key(key) + ":corrupt:" + time.Now().UTC().Format("20060102T150405.000000000")
	return r.client.Rename(ctx, r.key(key), backup).Err()
}
