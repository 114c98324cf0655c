package auth

import "context"

type ctxKey struct{}

// ContextWithPrincipal returns a child context carrying p.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFromContext reports the caller attached by ContextWithPrincipal.
// Anonymous principals are treated as absent.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, _ := ctx.Value(ctxKey{}).(Principal)
	return p, p.Authenticated()
}
