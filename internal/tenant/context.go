// Package tenant carries the tenant identifier through request and job contexts.
package tenant

import "context"

type contextKey struct{}

// Default is used when a caller does not name a tenant.
const Default = "default"

// WithID stores the tenant id in ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// ID returns the tenant id from ctx and whether one was set.
func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// IDOrDefault returns the tenant id from ctx, or Default.
func IDOrDefault(ctx context.Context) string {
	if id, ok := ID(ctx); ok {
		return id
	}
	return Default
}
