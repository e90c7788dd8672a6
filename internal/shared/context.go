package shared

import "context"

type identityContextKey struct{}

// Identity describes the authenticated caller as established by the upstream
// auth gateway. The engine itself never authenticates.
type Identity struct {
	UserID int64
}

// ContextWithIdentity stores the caller identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
