package authz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentra.org/internal/obs"
)

// Authorizer is the single decision entry point. Context-bearing requests go
// through policy evaluation first; everything else, and anything the
// policies leave indeterminate, falls back to the role-derived permission
// closure.
type Authorizer struct {
	store Store
	perms *PermissionCache
	now   func() time.Time
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithClock overrides the time source (useful for tests and $timeRange).
func WithClock(fn func() time.Time) Option {
	return func(a *Authorizer) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAuthorizer builds the coordinator. perms may not be nil; a cacheless
// deployment passes a PermissionCache with a nil backend.
func NewAuthorizer(store Store, perms *PermissionCache, opts ...Option) (*Authorizer, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if perms == nil {
		return nil, fmt.Errorf("%w: permission cache is required", ErrInvalidInput)
	}
	a := &Authorizer{store: store, perms: perms, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authorize decides whether the principal may perform action on resource.
// reqCtx may be nil; when present, matching policies are consulted before
// the permission closure. Absence of data is never treated as allowed.
func (a *Authorizer) Authorize(ctx context.Context, principalID, resource, action string, reqCtx map[string]any) (Decision, error) {
	principalID = strings.TrimSpace(principalID)
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if principalID == "" || resource == "" || action == "" {
		return Decision{}, fmt.Errorf("%w: principal, resource and action are required", ErrInvalidInput)
	}

	if len(reqCtx) > 0 {
		env, err := a.policyContext(ctx, principalID, reqCtx)
		if err != nil {
			return Decision{}, err
		}
		policies, err := a.store.PoliciesFor(ctx, resource, action)
		if err != nil {
			return Decision{}, err
		}
		if decision, matched := aggregate(policies, env, a.now().UTC()); matched {
			obs.AuthorizationDecision(string(decision.Source), decision.Allowed)
			return decision, nil
		}
	}

	allowed, err := a.hasPermission(ctx, principalID, resource, action)
	if err != nil {
		return Decision{}, err
	}
	decision := Decision{Source: SourceNone, Reason: "no grant for " + PermissionKey(resource, action)}
	if allowed {
		decision = Decision{
			Allowed: true,
			Reason:  PermissionKey(resource, action),
			Source:  SourcePermission,
		}
	}
	obs.AuthorizationDecision(string(decision.Source), decision.Allowed)
	return decision, nil
}

// HasPermission answers the pure RBAC question, bypassing policies.
func (a *Authorizer) HasPermission(ctx context.Context, principalID, resource, action string) (bool, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return false, fmt.Errorf("%w: principal is required", ErrInvalidInput)
	}
	return a.hasPermission(ctx, principalID, resource, action)
}

// HasRelationship is a supplementary check outside the default decision
// chain: it consults only the relationship graph.
func (a *Authorizer) HasRelationship(ctx context.Context, principalID, targetID, relationship string) (Decision, error) {
	principalID = strings.TrimSpace(principalID)
	targetID = strings.TrimSpace(targetID)
	relationship = strings.TrimSpace(relationship)
	if principalID == "" || targetID == "" || relationship == "" {
		return Decision{}, fmt.Errorf("%w: principal, target and relationship are required", ErrInvalidInput)
	}
	ok, err := a.store.HasRelationship(ctx, principalID, targetID, relationship)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{Source: SourceNone, Reason: "no " + relationship + " relationship"}, nil
	}
	return Decision{Allowed: true, Reason: relationship, Source: SourceRelationship}, nil
}

// Invalidate drops the cached permission closure for a principal. Exposed so
// management operations can hook role and permission mutations.
func (a *Authorizer) Invalidate(ctx context.Context, principalID string) error {
	return a.perms.Invalidate(ctx, principalID)
}

// policyContext merges the principal's stored attributes under the request
// context. Caller-supplied keys override stored attributes.
func (a *Authorizer) policyContext(ctx context.Context, principalID string, reqCtx map[string]any) (map[string]any, error) {
	attrs, err := a.store.PrincipalAttributes(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return reqCtx, nil
	}
	env := make(map[string]any, len(attrs)+len(reqCtx))
	for k, v := range attrs {
		env[k] = v
	}
	for k, v := range reqCtx {
		env[k] = v
	}
	return env, nil
}

func (a *Authorizer) hasPermission(ctx context.Context, principalID, resource, action string) (bool, error) {
	perms, err := a.perms.Permissions(ctx, principalID)
	if err != nil {
		return false, err
	}
	_, ok := perms[PermissionKey(resource, action)]
	return ok, nil
}
