package cacheinfra

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/viccon/sturdyc"
)

// MaxRetention is the longest horizon an entry can live in the in-process store.
// Entries stored without expiration are kept for this long, which is effectively forever.
const MaxRetention = 100 * 365 * 24 * time.Hour

// Config holds the configuration for the sturdyc backed store.
type Config struct {
	// Capacity defines the maximum number of entries that the store can hold.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of sturdyc shards for concurrent access.
	// Must be greater than 0. Default: 256
	NumShards int

	// Retention is the sturdyc TTL. It bounds how long any entry is kept,
	// including entries written without expiration. Per-entry TTLs are tracked
	// separately and never exceed this value.
	Retention time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the store reaches its capacity. Must be between 1-100.
	// Default: 10 (evict 10% of entries)
	EvictionPercentage int

	// EvictionInterval sets how often sturdyc scans for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration

	// Clock overrides the clock used for expiry decisions. Nil uses the real clock.
	Clock sturdyc.Clock
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		Retention:          MaxRetention,
		EvictionPercentage: 10,
		EvictionInterval:   0, // Use default
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, Retention, and EvictionPercentage are passed directly
// to sturdyc.New() and are not included in the options.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	if c.Clock != nil {
		options = append(options, sturdyc.WithClock(c.Clock))
	}

	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity,
			validation.Required.Error("must be greater than 0"),
			validation.Min(1).Error("must be greater than 0"),
		),
		validation.Field(&c.NumShards,
			validation.Required.Error("must be greater than 0"),
			validation.Min(1).Error("must be greater than 0"),
		),
		validation.Field(&c.Retention,
			validation.Required.Error("must be greater than 0"),
			validation.Min(time.Duration(1)).Error("must be greater than 0"),
			validation.Max(MaxRetention).Error("must not exceed the maximum retention"),
		),
		validation.Field(&c.EvictionPercentage,
			validation.Required.Error("must be between 1 and 100"),
			validation.Min(1).Error("must be between 1 and 100"),
			validation.Max(100).Error("must be between 1 and 100"),
		),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0)).Error("must be non-negative")),
	)
}

// entry wraps a stored value with its own expiration, since sturdyc only
// supports a single TTL per client.
type entry struct {
	value     any
	expiresAt time.Time
	forever   bool
}

// MemoryStore keeps query results in a sturdyc client.
type MemoryStore struct {
	client *sturdyc.Client[entry]
	now    func() time.Time
}

// NewMemoryStore validates cfg and creates a sturdyc backed store.
func NewMemoryStore(cfg Config) (*MemoryStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[entry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.Retention,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock.Now
	}

	return &MemoryStore{client: client, now: now}, nil
}

// Get returns the stored value for key. Entries past their own expiration are
// removed and reported as missing.
func (s *MemoryStore) Get(_ context.Context, key string) (any, bool, error) {
	e, ok := s.client.Get(key)
	if !ok {
		return nil, false, nil
	}

	if !e.forever && !s.now().Before(e.expiresAt) {
		s.client.Delete(key)
		return nil, false, nil
	}

	return e.value, true, nil
}

// Put stores value under key for ttl. A non-positive ttl removes the key.
func (s *MemoryStore) Put(_ context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		s.client.Delete(key)
		return nil
	}
	s.client.Set(key, entry{value: value, expiresAt: s.now().Add(ttl)})
	return nil
}

// PutForever stores value under key without expiration.
func (s *MemoryStore) PutForever(_ context.Context, key string, value any) error {
	s.client.Set(key, entry{value: value, forever: true})
	return nil
}

// Len reports how many entries sturdyc currently holds, expired ones included.
func (s *MemoryStore) Len() int {
	return s.client.Size()
}
