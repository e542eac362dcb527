package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-query-cache/cache"
)

// Runner decorates a Builder with cached terminal operations. Every
// operation derives its key from the builder's statement and bindings unless
// a prefix is set, looks the key up through the executor, and only runs the
// builder on a miss.
//
// The prefix set with SetPrefix is shared by every caller of the runner. Use
// WithKeyPrefix on the context when one runner serves concurrent logical
// queries that need different keys.
type Runner[T any] struct {
	builder  Builder[T]
	executor cache.Executor
	deriver  cache.KeyDeriver
	ttl      time.Duration

	mu     sync.RWMutex
	prefix string
}

// Option configures a Runner.
type Option func(*runnerConfig)

type runnerConfig struct {
	ttl     time.Duration
	deriver cache.KeyDeriver
	prefix  string
}

// WithDefaultTTL sets the ttl used by non-forever operations that are not
// given WithTTL. Negative values are ignored.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *runnerConfig) {
		if ttl >= 0 {
			c.ttl = ttl
		}
	}
}

// WithKeyDeriver replaces the default framed sha256 deriver.
func WithKeyDeriver(deriver cache.KeyDeriver) Option {
	return func(c *runnerConfig) {
		if deriver != nil {
			c.deriver = deriver
		}
	}
}

// WithPrefix sets the initial prefix, equivalent to calling SetPrefix.
func WithPrefix(prefix string) Option {
	return func(c *runnerConfig) { c.prefix = prefix }
}

// New returns a Runner over builder using executor for lookups and writes.
func New[T any](builder Builder[T], executor cache.Executor, opts ...Option) *Runner[T] {
	cfg := runnerConfig{
		ttl:     cache.DefaultTTL,
		deriver: cache.DefaultKeyDeriver(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Runner[T]{
		builder:  builder,
		executor: executor,
		deriver:  cfg.deriver,
		ttl:      cfg.ttl,
		prefix:   cfg.prefix,
	}
}

// CallOption adjusts a single Runner operation.
type CallOption func(*callConfig)

type callConfig struct {
	ttl  time.Duration
	page int
}

// WithTTL overrides the runner default ttl for one call. It has no effect on
// the Forever operations.
func WithTTL(ttl time.Duration) CallOption {
	return func(c *callConfig) { c.ttl = ttl }
}

// WithPage selects the page for PaginateAndRemember and
// PaginateAndRememberForever. Pages start at 1.
func WithPage(page int) CallOption {
	return func(c *callConfig) { c.page = page }
}

func (r *Runner[T]) callConfig(opts []CallOption) callConfig {
	cfg := callConfig{ttl: r.ttl, page: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.page = normalizePage(cfg.page)
	return cfg
}

// SetPrefix sets the key used verbatim by subsequent operations. An empty
// value leaves the current prefix in place; use ClearPrefix to remove it.
func (r *Runner[T]) SetPrefix(prefix string) *Runner[T] {
	if prefix == "" {
		return r
	}
	r.mu.Lock()
	r.prefix = prefix
	r.mu.Unlock()
	return r
}

// ClearPrefix removes the prefix so keys are derived from the query again.
func (r *Runner[T]) ClearPrefix() *Runner[T] {
	r.mu.Lock()
	r.prefix = ""
	r.mu.Unlock()
	return r
}

// Prefix returns the prefix set on the runner.
func (r *Runner[T]) Prefix() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prefix
}

// Key returns the key an operation with the given scope would use.
func (r *Runner[T]) Key(ctx context.Context, scope ...any) (string, error) {
	prefix, ok := KeyPrefixFromContext(ctx)
	if !ok {
		prefix = r.Prefix()
	}
	return r.deriver.DeriveKey(r.builder, prefix, scope...)
}

// run is the single primitive behind every cached operation.
func run[T, R any](ctx context.Context, r *Runner[T], expiry cache.Expiry, scope []any, produce cache.Producer[R]) (R, error) {
	key, err := r.Key(ctx, scope...)
	if err != nil {
		var zero R
		return zero, err
	}
	return cache.RememberWith(ctx, r.executor, key, expiry, produce)
}

func (r *Runner[T]) expiry(cfg callConfig, forever bool) cache.Expiry {
	if forever {
		return cache.Forever
	}
	return cache.For(cfg.ttl)
}

func (r *Runner[T]) get(ctx context.Context, forever bool, opts []CallOption) ([]T, error) {
	cfg := r.callConfig(opts)
	return run(ctx, r, r.expiry(cfg, forever), []any{"get"}, r.builder.Get)
}

func (r *Runner[T]) find(ctx context.Context, id any, forever bool, opts []CallOption) (T, error) {
	cfg := r.callConfig(opts)
	return run(ctx, r, r.expiry(cfg, forever), []any{"find", id}, func(ctx context.Context) (T, error) {
		return r.builder.Find(ctx, id)
	})
}

func (r *Runner[T]) first(ctx context.Context, forever bool, opts []CallOption) (T, error) {
	cfg := r.callConfig(opts)
	return run(ctx, r, r.expiry(cfg, forever), []any{"first"}, r.builder.First)
}

func (r *Runner[T]) count(ctx context.Context, forever bool, opts []CallOption) (int64, error) {
	cfg := r.callConfig(opts)
	return run(ctx, r, r.expiry(cfg, forever), []any{"count"}, r.builder.Count)
}

func (r *Runner[T]) paginate(ctx context.Context, perPage int, forever bool, opts []CallOption) (Page[T], error) {
	cfg := r.callConfig(opts)
	perPage = normalizePerPage(perPage)
	return run(ctx, r, r.expiry(cfg, forever), []any{"paginate", perPage, cfg.page}, func(ctx context.Context) (Page[T], error) {
		return r.builder.Paginate(ctx, perPage, cfg.page)
	})
}

// Remember returns every row of the query, cached for the call ttl.
func (r *Runner[T]) Remember(ctx context.Context, opts ...CallOption) ([]T, error) {
	return r.get(ctx, false, opts)
}

// RememberForever returns every row of the query, cached without expiration.
func (r *Runner[T]) RememberForever(ctx context.Context, opts ...CallOption) ([]T, error) {
	return r.get(ctx, true, opts)
}

// FindAndRemember returns the row identified by id, cached for the call ttl.
func (r *Runner[T]) FindAndRemember(ctx context.Context, id any, opts ...CallOption) (T, error) {
	return r.find(ctx, id, false, opts)
}

// FindAndRememberForever returns the row identified by id, cached without expiration.
func (r *Runner[T]) FindAndRememberForever(ctx context.Context, id any, opts ...CallOption) (T, error) {
	return r.find(ctx, id, true, opts)
}

// FirstAndRemember returns the first row, cached for the call ttl.
func (r *Runner[T]) FirstAndRemember(ctx context.Context, opts ...CallOption) (T, error) {
	return r.first(ctx, false, opts)
}

// FirstAndRememberForever returns the first row, cached without expiration.
func (r *Runner[T]) FirstAndRememberForever(ctx context.Context, opts ...CallOption) (T, error) {
	return r.first(ctx, true, opts)
}

// RememberCount returns the row count, cached for the call ttl.
func (r *Runner[T]) RememberCount(ctx context.Context, opts ...CallOption) (int64, error) {
	return r.count(ctx, false, opts)
}

// RememberCountForever returns the row count, cached without expiration.
func (r *Runner[T]) RememberCountForever(ctx context.Context, opts ...CallOption) (int64, error) {
	return r.count(ctx, true, opts)
}

// PaginateAndRemember returns one page of perPage rows, cached for the call
// ttl. The page defaults to 1 and is chosen with WithPage.
func (r *Runner[T]) PaginateAndRemember(ctx context.Context, perPage int, opts ...CallOption) (Page[T], error) {
	return r.paginate(ctx, perPage, false, opts)
}

// PaginateAndRememberForever is PaginateAndRemember without expiration.
func (r *Runner[T]) PaginateAndRememberForever(ctx context.Context, perPage int, opts ...CallOption) (Page[T], error) {
	return r.paginate(ctx, perPage, true, opts)
}
