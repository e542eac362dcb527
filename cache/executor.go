package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Producer computes a fresh result on a cache miss.
type Producer[T any] func(ctx context.Context) (T, error)

// Expiry describes how long a produced value is stored.
type Expiry struct {
	ttl     time.Duration
	forever bool
}

// For returns an Expiry storing values for ttl.
func For(ttl time.Duration) Expiry {
	return Expiry{ttl: ttl}
}

// Forever is the Expiry for values stored without expiration.
var Forever = Expiry{forever: true}

// TTL returns the configured duration. It is meaningless when IsForever is true.
func (e Expiry) TTL() time.Duration { return e.ttl }

// IsForever reports whether the value is stored without expiration.
func (e Expiry) IsForever() bool { return e.forever }

func (e Expiry) String() string {
	if e.forever {
		return "forever"
	}
	return e.ttl.String()
}

// Executor runs the remember protocol: return the stored value on a hit, run
// producer and store its result on a miss.
type Executor interface {
	Remember(ctx context.Context, key string, expiry Expiry, producer func(ctx context.Context) (any, error)) (any, error)
}

// Stats reports executor counters. Misses counts producer runs and Hits the
// calls served without one, including callers that shared a WithDedupe flight.
type Stats struct {
	Hits   int64
	Misses int64
	Writes int64
}

// ExecutorOption configures a StoreExecutor.
type ExecutorOption func(*StoreExecutor)

// WithDedupe makes concurrent misses on the same key share a single producer call.
func WithDedupe() ExecutorOption {
	return func(e *StoreExecutor) { e.flight = &singleflight.Group{} }
}

// WithLogger sets the logger used for debug level hit and miss lines.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *StoreExecutor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// StoreExecutor is the Executor backed by a Store.
//
// Without WithDedupe there is no stampede protection: concurrent misses on
// the same key each run the producer and each write the store.
type StoreExecutor struct {
	store  Store
	flight *singleflight.Group
	logger *zap.Logger

	hits   *xsync.Counter
	misses *xsync.Counter
	writes *xsync.Counter
}

var _ Executor = (*StoreExecutor)(nil)

// NewExecutor creates an executor reading from and writing to store.
func NewExecutor(store Store, opts ...ExecutorOption) *StoreExecutor {
	e := &StoreExecutor{
		store:  store,
		logger: zap.NewNop(),
		hits:   xsync.NewCounter(),
		misses: xsync.NewCounter(),
		writes: xsync.NewCounter(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Remember implements Executor. Store and producer errors are returned
// unmodified, and a failed producer never writes to the store.
func (e *StoreExecutor) Remember(ctx context.Context, key string, expiry Expiry, producer func(ctx context.Context) (any, error)) (any, error) {
	if !expiry.forever && expiry.ttl < 0 {
		return nil, errors.Wrapf(ErrInvalidTTL, "ttl %s", expiry.ttl)
	}

	value, found, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		e.hits.Inc()
		e.logger.Debug("query cache hit", zap.String("key", key))
		return value, nil
	}

	e.logger.Debug("query cache miss", zap.String("key", key), zap.Stringer("expiry", expiry))

	if e.flight == nil {
		e.misses.Inc()
		return e.fill(ctx, key, expiry, producer)
	}

	led := false
	value, err, shared := e.flight.Do(key, func() (any, error) {
		led = true
		// A flight that finished between our Get and Do has already stored the value.
		if value, found, err := e.store.Get(ctx, key); err != nil || found {
			if found {
				e.hits.Inc()
			}
			return value, err
		}
		e.misses.Inc()
		return e.fill(ctx, key, expiry, producer)
	})
	if !led && err == nil {
		e.hits.Inc()
	}
	if shared {
		e.logger.Debug("query cache fill shared", zap.String("key", key))
	}
	return value, err
}

func (e *StoreExecutor) fill(ctx context.Context, key string, expiry Expiry, producer func(ctx context.Context) (any, error)) (any, error) {
	value, err := producer(ctx)
	if err != nil {
		return nil, err
	}

	switch {
	case expiry.forever:
		err = e.store.PutForever(ctx, key, value)
	case expiry.ttl == 0:
		// Already expired: hand the value back without storing it.
		return value, nil
	default:
		err = e.store.Put(ctx, key, value, expiry.ttl)
	}
	if err != nil {
		return nil, err
	}

	e.writes.Inc()
	return value, nil
}

// Stats returns a snapshot of the executor counters.
func (e *StoreExecutor) Stats() Stats {
	return Stats{
		Hits:   e.hits.Value(),
		Misses: e.misses.Value(),
		Writes: e.writes.Value(),
	}
}

// Remember is the typed form of Executor.Remember storing results for ttl.
func Remember[T any](ctx context.Context, ex Executor, key string, ttl time.Duration, producer Producer[T]) (T, error) {
	return RememberWith(ctx, ex, key, For(ttl), producer)
}

// RememberForever is the typed form of Executor.Remember storing results without expiration.
func RememberForever[T any](ctx context.Context, ex Executor, key string, producer Producer[T]) (T, error) {
	return RememberWith(ctx, ex, key, Forever, producer)
}

// RememberWith is the primitive shared by Remember and RememberForever.
func RememberWith[T any](ctx context.Context, ex Executor, key string, expiry Expiry, producer Producer[T]) (T, error) {
	result, err := ex.Remember(ctx, key, expiry, func(ctx context.Context) (any, error) {
		return producer(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return asResult[T](result)
}

// asResult converts a value coming back from the executor into T. Encoded
// payloads from serializing stores are decoded with msgpack.
func asResult[T any](value any) (T, error) {
	var zero T

	if value == nil {
		return zero, nil
	}

	if typed, ok := value.(T); ok {
		return typed, nil
	}

	if encoded, ok := value.(Encoded); ok {
		var result T
		if err := msgpack.Unmarshal(encoded, &result); err != nil {
			return zero, errors.Wrapf(ErrInvalidResultType, "decode cached value as %T: %v", zero, err)
		}
		return result, nil
	}

	return zero, errors.Wrapf(ErrInvalidResultType, "cached value has type %T, want %T", value, zero)
}
