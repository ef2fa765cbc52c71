package authz

import "context"

// Store is the persistence gateway the decision engine reads from. All
// methods are read-only; mutation of roles, permissions and policies happens
// in the management layer.
type Store interface {
	// PoliciesFor returns the active policies whose resource matches and
	// whose action is either an exact match or the wildcard.
	PoliciesFor(ctx context.Context, resource, action string) ([]Policy, error)
	// PermissionClosure resolves the principal's "resource:action" set
	// across all of its active roles' active permissions.
	PermissionClosure(ctx context.Context, principalID string) ([]string, error)
	// PrincipalAttributes loads the principal's stored attribute map. The
	// attributes are merged under context-bearing requests before policy
	// evaluation; caller-supplied context keys win on collision.
	PrincipalAttributes(ctx context.Context, principalID string) (map[string]string, error)
	// HasRelationship reports whether an edge of the given type exists
	// from the principal to the target.
	HasRelationship(ctx context.Context, principalID, targetID, relationship string) (bool, error)
}
