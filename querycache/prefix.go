package querycache

import (
	"context"
)

type keyPrefixContextKey struct{}

// WithKeyPrefix attaches a cache key override to the context. Runner
// operations called with the returned context use prefix verbatim as the key,
// ahead of any prefix set on the runner. An empty prefix returns ctx as is.
func WithKeyPrefix(ctx context.Context, prefix string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if prefix == "" {
		return ctx
	}
	return context.WithValue(ctx, keyPrefixContextKey{}, prefix)
}

// KeyPrefixFromContext returns the prefix stored by WithKeyPrefix.
func KeyPrefixFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	prefix, ok := ctx.Value(keyPrefixContextKey{}).(string)
	return prefix, ok && prefix != ""
}
