package iam

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentra.org/internal/authz"
	"sentra.org/internal/ids"
	"sentra.org/internal/session"
)

// Service exposes identity and access management. Each operation trims and
// validates its input, delegates to the store, and keeps the permission
// cache coherent by invalidating affected closures.
type Service struct {
	store      Store
	cache      Invalidator
	bcryptCost int
	now        func() time.Time
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) { s.bcryptCost = cost }
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the management layer. cache may be nil when no
// permission cache is deployed.
func NewService(store Store, cache Invalidator, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	s := &Service{store: store, cache: cache, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreatePrincipal registers a new account with a hashed credential.
func (s *Service) CreatePrincipal(ctx context.Context, email, password string) (*session.Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := session.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	principal := &session.Principal{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreatePrincipal(ctx, principal); err != nil {
		return nil, err
	}
	return principal, nil
}

// SetPrincipalStatus activates or deactivates an account.
func (s *Service) SetPrincipalStatus(ctx context.Context, principalID string, active bool) error {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return fmt.Errorf("%w: principal_id is required", ErrInvalidInput)
	}
	return s.store.SetPrincipalStatus(ctx, principalID, active)
}

// SetPrincipalAttribute upserts one ABAC attribute on a principal.
func (s *Service) SetPrincipalAttribute(ctx context.Context, principalID, key, value string) error {
	principalID = strings.TrimSpace(principalID)
	key = strings.TrimSpace(key)
	if principalID == "" || key == "" {
		return fmt.Errorf("%w: principal_id and key are required", ErrInvalidInput)
	}
	return s.store.SetPrincipalAttribute(ctx, principalID, key, value)
}

// CreateRole creates an active role with a unique name.
func (s *Service) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// GetRole returns one role by id.
func (s *Service) GetRole(ctx context.Context, roleID string) (*Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, roleID)
}

// ListRoles returns every role.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// SetRoleActive toggles a role. The affected principal set is unknown, so
// the whole permission cache is dropped.
func (s *Service) SetRoleActive(ctx context.Context, roleID string, active bool) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if err := s.store.SetRoleActive(ctx, roleID, active); err != nil {
		return err
	}
	return s.invalidateAll(ctx)
}

// CreatePermission registers a (resource, action) capability.
func (s *Service) CreatePermission(ctx context.Context, resource, action, description string) (*Permission, error) {
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if resource == "" || action == "" {
		return nil, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	perm := &Permission{
		ID:          ids.New(),
		Resource:    resource,
		Action:      action,
		Description: strings.TrimSpace(description),
		Active:      true,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreatePermission(ctx, perm); err != nil {
		return nil, err
	}
	return perm, nil
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// SetRolePermissions replaces a role's permission set and drops every cached
// closure that could have depended on it.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if err := s.store.SetRolePermissions(ctx, roleID, dedupe(permissionIDs)); err != nil {
		return err
	}
	return s.invalidateAll(ctx)
}

// AssignRole grants a role to a principal.
func (s *Service) AssignRole(ctx context.Context, principalID, roleID string) error {
	principalID = strings.TrimSpace(principalID)
	roleID = strings.TrimSpace(roleID)
	if principalID == "" || roleID == "" {
		return fmt.Errorf("%w: principal_id and role_id are required", ErrInvalidInput)
	}
	if err := s.store.AssignRole(ctx, principalID, roleID); err != nil {
		return err
	}
	return s.invalidate(ctx, principalID)
}

// RemoveRole revokes a role from a principal.
func (s *Service) RemoveRole(ctx context.Context, principalID, roleID string) error {
	principalID = strings.TrimSpace(principalID)
	roleID = strings.TrimSpace(roleID)
	if principalID == "" || roleID == "" {
		return fmt.Errorf("%w: principal_id and role_id are required", ErrInvalidInput)
	}
	if err := s.store.RemoveRole(ctx, principalID, roleID); err != nil {
		return err
	}
	return s.invalidate(ctx, principalID)
}

// PolicyInput is the caller-supplied policy document.
type PolicyInput struct {
	Name       string         `json:"name"`
	Resource   string         `json:"resource"`
	Action     string         `json:"action"`
	Effect     string         `json:"effect"`
	Priority   int            `json:"priority"`
	Active     *bool          `json:"active,omitempty"`
	Conditions map[string]any `json:"conditions,omitempty"`
}

func (s *Service) validatePolicy(in PolicyInput) (*Policy, error) {
	name := strings.TrimSpace(in.Name)
	resource := strings.TrimSpace(in.Resource)
	action := strings.TrimSpace(in.Action)
	if name == "" {
		return nil, fmt.Errorf("%w: policy name is required", ErrInvalidInput)
	}
	if resource == "" {
		return nil, fmt.Errorf("%w: policy resource is required", ErrInvalidInput)
	}
	if action == "" {
		action = authz.WildcardAction
	}
	effect, err := authz.ParseEffect(in.Effect)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	// Reject malformed condition shapes at write time; the decision engine
	// only ever sees parseable documents.
	if _, err := authz.ParseCondition(in.Conditions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	return &Policy{
		Name:       name,
		Resource:   resource,
		Action:     action,
		Effect:     effect,
		Priority:   in.Priority,
		Active:     active,
		Conditions: in.Conditions,
	}, nil
}

// CreatePolicy validates and stores a policy.
func (s *Service) CreatePolicy(ctx context.Context, in PolicyInput) (*Policy, error) {
	policy, err := s.validatePolicy(in)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	policy.ID = ids.New()
	policy.CreatedAt = now
	policy.UpdatedAt = now
	if err := s.store.CreatePolicy(ctx, policy); err != nil {
		return nil, err
	}
	return policy, nil
}

// UpdatePolicy replaces a stored policy's definition.
func (s *Service) UpdatePolicy(ctx context.Context, policyID string, in PolicyInput) (*Policy, error) {
	policyID = strings.TrimSpace(policyID)
	if policyID == "" {
		return nil, fmt.Errorf("%w: policy_id is required", ErrInvalidInput)
	}
	existing, err := s.store.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	policy, err := s.validatePolicy(in)
	if err != nil {
		return nil, err
	}
	policy.ID = existing.ID
	policy.CreatedAt = existing.CreatedAt
	policy.UpdatedAt = s.now().UTC()
	if err := s.store.UpdatePolicy(ctx, policy); err != nil {
		return nil, err
	}
	return policy, nil
}

// ListPolicies returns every stored policy.
func (s *Service) ListPolicies(ctx context.Context) ([]Policy, error) {
	return s.store.ListPolicies(ctx)
}

// DeletePolicy removes a policy.
func (s *Service) DeletePolicy(ctx context.Context, policyID string) error {
	policyID = strings.TrimSpace(policyID)
	if policyID == "" {
		return fmt.Errorf("%w: policy_id is required", ErrInvalidInput)
	}
	return s.store.DeletePolicy(ctx, policyID)
}

// AddRelationship records a typed edge between two principals.
func (s *Service) AddRelationship(ctx context.Context, principalID, targetID, relationship string) error {
	principalID = strings.TrimSpace(principalID)
	targetID = strings.TrimSpace(targetID)
	relationship = strings.TrimSpace(relationship)
	if principalID == "" || targetID == "" || relationship == "" {
		return fmt.Errorf("%w: principal_id, target_id and relationship are required", ErrInvalidInput)
	}
	return s.store.AddRelationship(ctx, &Relationship{
		PrincipalID:  principalID,
		TargetID:     targetID,
		Relationship: relationship,
		CreatedAt:    s.now().UTC(),
	})
}

// RemoveRelationship deletes a typed edge.
func (s *Service) RemoveRelationship(ctx context.Context, principalID, targetID, relationship string) error {
	principalID = strings.TrimSpace(principalID)
	targetID = strings.TrimSpace(targetID)
	relationship = strings.TrimSpace(relationship)
	if principalID == "" || targetID == "" || relationship == "" {
		return fmt.Errorf("%w: principal_id, target_id and relationship are required", ErrInvalidInput)
	}
	return s.store.RemoveRelationship(ctx, principalID, targetID, relationship)
}

func (s *Service) invalidate(ctx context.Context, principalID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, principalID)
}

func (s *Service) invalidateAll(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateAll(ctx)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
