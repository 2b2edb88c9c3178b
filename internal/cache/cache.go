// Package cache keeps per-user read views in redis and retires them when the
// ledger reports a change.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bankledger/internal/models"
)

// Key builds cache:{namespace}:{user}:{generation}:{name}.
func Key(ns models.CacheNamespace, userID string, gen int64, name string) string {
	return fmt.Sprintf("cache:%s:%s:%d:%s", ns, userID, gen, name)
}

// GenerationKey holds the current generation of a user's namespace.
// Invalidation bumps it, which orphans every key written under an older
// generation until its TTL runs out.
func GenerationKey(ns models.CacheNamespace, userID string) string {
	return fmt.Sprintf("cache:%s:%s:gen", ns, userID)
}

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{client: client, ttl: ttl}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Get decodes the cached value into dst and returns the generation it
// looked in. On a miss the caller fills the entry with Set under that same
// generation, so a fill that raced an invalidation is never served.
func (r *Redis) Get(ctx context.Context, ns models.CacheNamespace, userID, name string, dst any) (bool, int64, error) {
	gen, err := r.generation(ctx, ns, userID)
	if err != nil {
		return false, 0, err
	}
	raw, err := r.client.Get(ctx, Key(ns, userID, gen, name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, gen, nil
	}
	if err != nil {
		return false, gen, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, gen, err
	}
	return true, gen, nil
}

func (r *Redis) Set(ctx context.Context, ns models.CacheNamespace, userID, name string, gen int64, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, Key(ns, userID, gen, name), raw, r.ttl).Err()
}

// Invalidate moves each of the user's namespaces to a new generation.
func (r *Redis) Invalidate(ctx context.Context, inv models.CacheInvalidation) error {
	if len(inv.Namespaces) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for _, ns := range inv.Namespaces {
		pipe.Incr(ctx, GenerationKey(ns, inv.UserID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bump cache generation for %s: %w", inv.UserID, err)
	}
	return nil
}

func (r *Redis) generation(ctx context.Context, ns models.CacheNamespace, userID string) (int64, error) {
	gen, err := r.client.Get(ctx, GenerationKey(ns, userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Noop is used when no redis is configured.
type Noop struct{}

func (Noop) Get(context.Context, models.CacheNamespace, string, string, any) (bool, int64, error) {
	return false, 0, nil
}

func (Noop) Set(context.Context, models.CacheNamespace, string, string, int64, any) error {
	return nil
}

func (Noop) Invalidate(context.Context, models.CacheInvalidation) error {
	return nil
}
