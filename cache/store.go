package cache

import (
	"context"
	"time"

	"github.com/goliatone/go-query-cache/internal/cacheinfra"
)

// DefaultTTL is how long remembered results live when no TTL is given: one week.
const DefaultTTL = 7 * 24 * time.Hour

// Store is the key-value backend the executor reads from and writes to.
// Get reports a miss with found == false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value any, found bool, err error)
	Put(ctx context.Context, key string, value any, ttl time.Duration) error
	PutForever(ctx context.Context, key string, value any) error
}

// Encoded is the payload type returned by stores that serialize values.
// Remember and RememberForever decode it with msgpack into the requested type.
type Encoded = cacheinfra.Encoded

// RedisOption configures the Redis store.
type RedisOption = cacheinfra.RedisOption

// WithRedisKeyPrefix namespaces every Redis key as "<prefix>:<key>".
func WithRedisKeyPrefix(prefix string) RedisOption {
	return cacheinfra.WithKeyPrefix(prefix)
}

var (
	_ Store = (*cacheinfra.MemoryStore)(nil)
	_ Store = (*cacheinfra.RedisStore)(nil)
)
