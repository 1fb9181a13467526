package storage

import "context"

// Principal is the calling identity of a chain execution. The core passes it
// through to backends untouched; authorization is a backend concern.
type Principal struct {
	ID             string
	Authorizations []string
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached to ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
