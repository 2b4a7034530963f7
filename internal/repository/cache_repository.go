package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
)

// RedisSnapshotRepository keeps snapshots in Redis without expiry.
type RedisSnapshotRepository struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisSnapshotRepository constructs a repository storing keys under prefix.
// A nil client behaves as an always-empty store.
func NewRedisSnapshotRepository(client *redis.Client, prefix string, logger *zap.Logger) *RedisSnapshotRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSnapshotRepository{client: client, prefix: prefix, logger: logger}
}

// Get returns the raw snapshot stored for key.
func (r *RedisSnapshotRepository) Get(ctx context.Context, key string) ([]byte, error) {
	if r.client == nil {
		return nil, appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return raw, nil
}

// Set replaces the snapshot stored for key.
func (r *RedisSnapshotRepository) Set(ctx context.Context, key string, value []byte) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *RedisSnapshotRepository) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// List returns the keys starting with prefix, sorted.
func (r *RedisSnapshotRepository) List(ctx context.Context, prefix string) ([]string, error) {
	if r.client == nil {
		return nil, nil
	}

	pattern := escapeGlob(r.prefix+prefix) + "*"
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the underlying Redis connection if present.
func (r *RedisSnapshotRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
