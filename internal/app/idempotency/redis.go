package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const pendingMarker = "__pending__"

// RedisCache shares idempotency state between replicas. Reservations use
// SETNX so only one replica serves a given key.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps client. Keys are stored under prefix.
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "savings:idem:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if raw == pendingMarker {
		return Entry{}, false, ErrInProgress
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (c *RedisCache) Reserve(ctx context.Context, key string) (bool, error) {
	return c.client.SetNX(ctx, c.prefix+key, pendingMarker, c.ttl).Result()
}

func (c *RedisCache) Complete(ctx context.Context, key string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err()
}

func (c *RedisCache) Release(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

// NewRedisClient opens a client and verifies connectivity.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
