// Package querycache decorates query builders with cached terminal operations.
//
// # Overview
//
// A Runner wraps a Builder, the statement plus bindings of one query and the
// terminal operations that execute it, and routes each terminal operation
// through a cache.Executor:
//
//	store, _ := cache.NewMemoryStore(cache.DefaultStoreConfig())
//	executor := cache.NewExecutor(store)
//
//	users := querycache.New[User](bunquery.NewRaw[User](db,
//		"SELECT * FROM users WHERE active = ?", true), executor)
//
//	active, err := users.Remember(ctx)                     // Get, cached for cache.DefaultTTL
//	user, err := users.FindAndRemember(ctx, 42, querycache.WithTTL(time.Hour))
//	total, err := users.RememberCountForever(ctx)
//	page, err := users.PaginateAndRemember(ctx, 20, querycache.WithPage(3))
//
// # Operations
//
//	Remember, RememberForever                         Builder.Get
//	FindAndRemember, FindAndRememberForever           Builder.Find
//	FirstAndRemember, FirstAndRememberForever         Builder.First
//	RememberCount, RememberCountForever               Builder.Count
//	PaginateAndRemember, PaginateAndRememberForever   Builder.Paginate
//
// The builder runs only on a miss. A builder error is returned unchanged and
// nothing is stored, so the next call runs the builder again.
//
// # Keys
//
// Keys come from the runner's cache.KeyDeriver. With the default framed
// deriver the operation and its arguments (find id, page size and page) are
// part of the key. The legacy deriver reproduces the PHP era md5 keys, which
// only cover the statement and bindings: Remember and FindAndRemember on the
// same builder then share a key.
//
// # Prefixes
//
// A prefix replaces the derived key verbatim. It comes from the context,
// set with WithKeyPrefix, or from the runner, set with SetPrefix:
//
//	users.SetPrefix("users:active")
//	users.SetPrefix("")          // no-op, the prefix stays "users:active"
//	users.ClearPrefix()          // keys are derived again
//
//	ctx = querycache.WithKeyPrefix(ctx, "users:report")
//
// The context prefix takes precedence. SetPrefix mutates state shared by
// every caller of the runner, so concurrent callers needing different keys
// should use the context form.
package querycache
