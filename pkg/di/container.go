package di

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/querycache"
	"go.uber.org/zap"
)

// Config groups everything the container needs to build the cache stack.
type Config struct {
	// Store configures the in-process store. It is ignored by NewContainerWithStore.
	Store cache.StoreConfig

	// KeyMode and Digest select the key deriver. Use cache.KeyModeLegacy with
	// cache.DigestMD5 to share keys with existing PHP deployments.
	KeyMode cache.KeyMode
	Digest  cache.Digest

	// DefaultTTL is used by runner operations not given querycache.WithTTL.
	DefaultTTL time.Duration

	// Dedupe shares one query execution between concurrent misses on a key.
	Dedupe bool
}

// DefaultConfig returns the default container configuration.
func DefaultConfig() Config {
	return Config{
		Store:      cache.DefaultStoreConfig(),
		KeyMode:    cache.KeyModeFramed,
		Digest:     cache.DigestSHA256,
		DefaultTTL: cache.DefaultTTL,
	}
}

// Validate checks the configuration, including the nested store configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Store),
		validation.Field(&c.KeyMode, validation.In(cache.KeyModeFramed, cache.KeyModeLegacy).Error("must be framed or legacy")),
		validation.Field(&c.Digest, validation.In(cache.DigestSHA256, cache.DigestMD5, cache.DigestXXHash64).Error("must be sha256, md5 or xxhash64")),
		validation.Field(&c.DefaultTTL, validation.Min(time.Duration(0)).Error("must be non-negative")),
	)
}

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger handed to the executor.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Container provides dependency injection for cache related components.
// It owns one store, one executor and one key deriver shared by every runner
// it creates.
type Container struct {
	store    cache.Store
	executor *cache.StoreExecutor
	deriver  cache.KeyDeriver
	config   Config
	logger   *zap.Logger
}

// NewContainer creates a container backed by the sturdyc in-process store.
func NewContainer(config Config, opts ...Option) (*Container, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := cache.NewMemoryStore(config.Store)
	if err != nil {
		return nil, err
	}

	return build(store, config, opts), nil
}

// NewContainerWithDefaults creates a container using DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(DefaultConfig(), opts...)
}

// NewContainerWithStore creates a container around an existing store, such as
// the one returned by cache.NewRedisStore. config.Store is not validated.
func NewContainerWithStore(store cache.Store, config Config, opts ...Option) (*Container, error) {
	config.Store = cache.DefaultStoreConfig()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return build(store, config, opts), nil
}

func build(store cache.Store, config Config, opts []Option) *Container {
	c := &Container{
		store:   store,
		deriver: cache.NewKeyDeriver(config.KeyMode, config.Digest),
		config:  config,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	execOpts := []cache.ExecutorOption{cache.WithLogger(c.logger)}
	if config.Dedupe {
		execOpts = append(execOpts, cache.WithDedupe())
	}
	c.executor = cache.NewExecutor(store, execOpts...)

	c.logger.Debug("query cache container ready",
		zap.Stringer("key_mode", config.KeyMode),
		zap.Stringer("digest", config.Digest),
		zap.Duration("default_ttl", config.DefaultTTL),
		zap.Bool("dedupe", config.Dedupe),
	)

	return c
}

// Store returns the shared store.
func (c *Container) Store() cache.Store {
	return c.store
}

// Executor returns the shared executor.
func (c *Container) Executor() *cache.StoreExecutor {
	return c.executor
}

// KeyDeriver returns the shared key deriver.
func (c *Container) KeyDeriver() cache.KeyDeriver {
	return c.deriver
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() Config {
	return c.config
}

// NewRunner creates a runner over builder using the container's executor,
// key deriver and default ttl. opts are applied after the container defaults.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewRunner[User](container, bunquery.NewRaw[User](db, "SELECT * FROM users"))
func NewRunner[T any](c *Container, builder querycache.Builder[T], opts ...querycache.Option) *querycache.Runner[T] {
	all := append([]querycache.Option{
		querycache.WithDefaultTTL(c.config.DefaultTTL),
		querycache.WithKeyDeriver(c.deriver),
	}, opts...)
	return querycache.New(builder, c.executor, all...)
}
