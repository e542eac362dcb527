package cacheinfra

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Encoded is a msgpack payload returned by serializing stores. Consumers decode
// it into the concrete result type they expect.
type Encoded []byte

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key written by the store as "<prefix>:<key>".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// RedisStore keeps query results in Redis as msgpack encoded strings.
// The caller owns the client lifecycle.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store backed by the given Redis client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Get returns the encoded payload for key. redis.Nil is reported as a miss,
// every other client error is returned as is.
func (s *RedisStore) Get(ctx context.Context, key string) (any, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return Encoded(data), true, nil
}

// Put encodes value and stores it with ttl. A non-positive ttl removes the key,
// since Redis would otherwise treat it as "no expiration".
func (s *RedisStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return s.client.Del(ctx, s.key(key)).Err()
	}
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), data, ttl).Err()
}

// PutForever encodes value and stores it without expiration.
func (s *RedisStore) PutForever(ctx context.Context, key string, value any) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), data, 0).Err()
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
