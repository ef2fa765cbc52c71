package session

import (
	"context"
	"strings"
)

type identityContextKey struct{}

// Identity is the authenticated caller attached to request contexts by the
// HTTP layer.
type Identity struct {
	PrincipalID string
	Roles       []string
	Permissions map[string]struct{}
}

// HasPermission reports whether the identity's token carried the given
// permission key.
func (id Identity) HasPermission(key string) bool {
	_, ok := id.Permissions[key]
	return ok
}

// IdentityFromClaims builds an Identity from verified token claims.
func IdentityFromClaims(claims *AccessClaims) Identity {
	perms := make(map[string]struct{}, len(claims.Permissions))
	for _, p := range claims.Permissions {
		perms[p] = struct{}{}
	}
	return Identity{
		PrincipalID: claims.Subject,
		Roles:       claims.Roles,
		Permissions: perms,
	}
}

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok || strings.TrimSpace(id.PrincipalID) == "" {
		return Identity{}, false
	}
	return id, true
}
