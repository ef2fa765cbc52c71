package iam

import (
	"context"

	"sentra.org/internal/session"
)

// Store is the persistence surface for identity and access management.
// These are thin CRUD operations; all authorization semantics live in the
// decision engine.
type Store interface {
	CreatePrincipal(ctx context.Context, p *session.Principal) error
	SetPrincipalStatus(ctx context.Context, principalID string, active bool) error
	SetPrincipalAttribute(ctx context.Context, principalID, key, value string) error

	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, roleID string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	SetRoleActive(ctx context.Context, roleID string, active bool) error

	CreatePermission(ctx context.Context, perm *Permission) error
	ListPermissions(ctx context.Context) ([]Permission, error)
	SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error

	AssignRole(ctx context.Context, principalID, roleID string) error
	RemoveRole(ctx context.Context, principalID, roleID string) error
	PrincipalRoleIDs(ctx context.Context, principalID string) ([]string, error)

	CreatePolicy(ctx context.Context, policy *Policy) error
	GetPolicy(ctx context.Context, policyID string) (*Policy, error)
	ListPolicies(ctx context.Context) ([]Policy, error)
	UpdatePolicy(ctx context.Context, policy *Policy) error
	DeletePolicy(ctx context.Context, policyID string) error

	AddRelationship(ctx context.Context, rel *Relationship) error
	RemoveRelationship(ctx context.Context, principalID, targetID, relationship string) error
}

// Invalidator is the hook into the permission cache. Mutations that change a
// single principal's closure invalidate that principal; role-level mutations
// whose blast radius is unknown invalidate everything.
type Invalidator interface {
	Invalidate(ctx context.Context, principalID string) error
	InvalidateAll(ctx context.Context) error
}
