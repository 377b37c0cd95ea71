package auth

import "context"

// Principal is the authenticated identity attached to a request.
type Principal struct {
	// Login is the token subject.
	Login string

	// Authorities are the role names carried by the token.
	Authorities []string
}

// HasAuthority reports whether the principal holds the named role.
func (p *Principal) HasAuthority(name string) bool {
	for _, a := range p.Authorities {
		if a == name {
			return true
		}
	}
	return false
}

// principalContextKey is the context key for Principal.
type principalContextKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFrom returns the principal attached to ctx, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok && p != nil
}

// CurrentLogin returns the principal's login or "" when unauthenticated.
func CurrentLogin(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok {
		return p.Login
	}
	return ""
}
