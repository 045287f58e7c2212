package snapshotcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "warpgate:snapshot:"

// Redis is a Cache shared across processes.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis creates a cache backed by the Redis server at addr.
func NewRedis(addr, password string, db int, ttl time.Duration) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: rdb, ttl: ttl}
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := r.client.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("snapshotcache: redis get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("snapshotcache: decode %s: %w", key, err)
	}
	return e, true, nil
}

// Put implements Cache.
func (r *Redis) Put(ctx context.Context, key string, e Entry) error {
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now().UTC()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("snapshotcache: encode: %w", err)
	}
	if err := r.client.Set(ctx, redisPrefix+key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("snapshotcache: redis set: %w", err)
	}
	return nil
}

// Invalidate implements Cache by deleting every snapshot key.
func (r *Redis) Invalidate(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, redisPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("snapshotcache: redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("snapshotcache: redis del: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *Redis) Close() error { return r.client.Close() }
