package cache

import (
	"time"

	"github.com/goliatone/go-query-cache/internal/cacheinfra"
	"github.com/redis/go-redis/v9"
)

// StoreConfig exposes the in-memory store options for consumers of the cache package.
type StoreConfig struct {
	Capacity           int
	NumShards          int
	Retention          time.Duration
	EvictionPercentage int
	EvictionInterval   time.Duration
}

// DefaultStoreConfig returns a StoreConfig populated with sensible defaults.
func DefaultStoreConfig() StoreConfig {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c StoreConfig) Validate() error {
	return c.toInternal().Validate()
}

// NewMemoryStore constructs the sturdyc backed in-process store.
func NewMemoryStore(cfg StoreConfig) (Store, error) {
	store, err := cacheinfra.NewMemoryStore(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewRedisStore constructs a store keeping msgpack encoded results in Redis.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) Store {
	return cacheinfra.NewRedisStore(client, opts...)
}

func (c StoreConfig) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		Retention:          c.Retention,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) StoreConfig {
	return StoreConfig{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		Retention:          cfg.Retention,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
