// Package redisstore implements the volatile idempotency tier on Redis.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "idem"

// FastStore implements idempotency.FastStore. SET NX EX gives the atomic
// set-if-absent-with-expiry the guard relies on for exactly one winner.
type FastStore struct {
	client *redis.Client
}

// New returns a FastStore over an existing client.
func New(client *redis.Client) *FastStore {
	return &FastStore{client: client}
}

// Open dials Redis from a URL (redis://host:port/db).
func Open(ctx context.Context, url string) (*FastStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &FastStore{client: client}, nil
}

func (store *FastStore) Reserve(ctx context.Context, scope string, key string, ttl time.Duration) (bool, error) {
	won, err := store.client.SetNX(ctx, redisKey(scope, key), "reserved", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return won, nil
}

func (store *FastStore) Delete(ctx context.Context, scope string, key string) error {
	if err := store.client.Del(ctx, redisKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (store *FastStore) Close() error {
	return store.client.Close()
}

func redisKey(scope string, key string) string {
	return keyPrefix + ":" + scope + ":" + key
}
