// Package cache provides key derivation and the remember protocol for query result caching.
//
// # Overview
//
// This package exports the pieces a query caching decorator is built from:
//
//   - KeyDeriver: turns a Query (statement plus ordered bindings) into a stable key
//   - Executor: returns a stored value on a hit, runs a producer and stores its result on a miss
//   - Store: the key-value backend, with in-memory (sturdyc) and Redis implementations
//
// # Basic Usage
//
//	store, err := cache.NewMemoryStore(cache.DefaultStoreConfig())
//	if err != nil {
//		return err
//	}
//	executor := cache.NewExecutor(store)
//
//	key, err := cache.DeriveKey(query, "")
//	if err != nil {
//		return err
//	}
//	users, err := cache.Remember(ctx, executor, key, time.Hour, func(ctx context.Context) ([]User, error) {
//		return query.Get(ctx)
//	})
//
// # Key Derivation
//
// A non-empty prefix is always used verbatim as the key. Otherwise the number of
// "?" placeholders must match the number of bindings, or derivation fails with
// ErrMismatchedParameterCount.
//
// KeyModeFramed (the default) length-prefixes the statement and a type tagged
// encoding of every binding, so 42 and "42" derive different keys and quote
// characters inside values cannot make two queries collide.
//
// KeyModeLegacy reproduces the PHP interpolation: each placeholder becomes
// '<value>' with no escaping, and the result is hashed. Combined with DigestMD5
// it yields keys identical to those written by existing PHP deployments.
// The interpolation is ambiguous: a binding containing a quote can produce the
// same rendered text as a different set of bindings. Use it only when keys must
// match existing cached data.
//
// # Remember Protocol
//
// A hit returns the stored value and never calls the producer. A miss calls the
// producer exactly once and writes its result once. Store and producer errors
// are returned unmodified and a failed producer never writes.
//
// A zero TTL produces and returns the value without storing it.
//
// # Concurrency
//
// StoreExecutor does not protect against cache stampedes by default: concurrent
// misses on one key each run the producer. WithDedupe routes fills through a
// singleflight group so callers that miss together share one producer call.
// Shared callers observe the context of the caller that started the fill.
//
// # Serializing Stores
//
// The Redis store encodes values with msgpack and returns Encoded payloads.
// Remember decodes them into the requested type, so exported fields survive
// the round trip and unexported fields do not.
package cache
