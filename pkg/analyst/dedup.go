package analyst

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupCache answers "has this key already been triggered within the TTL
// window", so the scheduler doesn't fire duplicate report generations on
// retry or overlapping cron ticks.
type DedupCache interface {
	// SeenRecently marks key as triggered and reports whether it was
	// already marked within the TTL window.
	SeenRecently(ctx context.Context, key string) (bool, error)
}

// inProcessDedup is a thread-safe in-memory TTL cache, the fallback when no
// Redis address is configured. Expired entries are cleaned up lazily on
// lookup, mirroring the teacher's runbook.Cache.
type inProcessDedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewInProcessDedup returns a DedupCache with no external dependency.
func NewInProcessDedup(ttl time.Duration) DedupCache {
	return &inProcessDedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

func (c *inProcessDedup) SeenRecently(_ context.Context, key string) (bool, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.seen[key]; ok && now.Sub(at) <= c.ttl {
		return true, nil
	}
	c.seen[key] = now
	return false, nil
}

// redisDedup backs the dedup check with Redis SETNX semantics so multiple
// Vigil processes sharing one Redis instance don't both trigger the same
// report.
type redisDedup struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDedup returns a DedupCache backed by client.
func NewRedisDedup(client *redis.Client, ttl time.Duration) DedupCache {
	return &redisDedup{client: client, ttl: ttl, prefix: "vigil:analyst:dedup:"}
}

func (c *redisDedup) SeenRecently(ctx context.Context, key string) (bool, error) {
	set, err := c.client.SetNX(ctx, c.prefix+key, 1, c.ttl).Result()
	if err != nil {
		return false, err
	}
	// SetNX returns true when the key was newly set, i.e. not seen before.
	return !set, nil
}
