package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sentra.org/internal/authz"
	"sentra.org/internal/iam"
	"sentra.org/internal/session"
)

var _ iam.Store = (*Store)(nil)

func (s *Store) CreatePrincipal(ctx context.Context, p *session.Principal) error {
	_, err := s.db.ExecContext(ctx, `
		insert into principals (id, email, password_hash, active, email_verified, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Email, p.PasswordHash, p.Active, p.EmailVerified, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: email already registered", iam.ErrConflict)
	}
	return err
}

func (s *Store) SetPrincipalStatus(ctx context.Context, principalID string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		update principals set active = $2, updated_at = now() where id = $1
	`, principalID, active)
	if err != nil {
		return err
	}
	return requireIAMRow(res)
}

func (s *Store) SetPrincipalAttribute(ctx context.Context, principalID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into principal_attributes (principal_id, key, value)
		values ($1, $2, $3)
		on conflict (principal_id, key) do update set value = excluded.value
	`, principalID, key, value)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: principal %s", iam.ErrNotFound, principalID)
	}
	return err
}

// PrincipalAttributes loads the ABAC attribute map used to enrich request
// contexts.
func (s *Store) PrincipalAttributes(ctx context.Context, principalID string) (map[string]string, error) {
	var attrs map[string]string
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			select key, value from principal_attributes where principal_id = $1
		`, principalID)
		if err != nil {
			return err
		}
		defer rows.Close()

		attrs = map[string]string{}
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				return err
			}
			attrs[k] = v
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

func (s *Store) CreateRole(ctx context.Context, role *iam.Role) error {
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, name, description, active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, role.ID, role.Name, role.Description, role.Active, role.CreatedAt, role.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: role %q already exists", iam.ErrConflict, role.Name)
	}
	return err
}

func (s *Store) GetRole(ctx context.Context, roleID string) (*iam.Role, error) {
	var role iam.Role
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, active, created_at, updated_at from roles where id = $1
	`, roleID).Scan(&role.ID, &role.Name, &role.Description, &role.Active, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, iam.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]iam.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, active, created_at, updated_at from roles order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []iam.Role
	for rows.Next() {
		var role iam.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.Active, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *Store) SetRoleActive(ctx context.Context, roleID string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		update roles set active = $2, updated_at = now() where id = $1
	`, roleID, active)
	if err != nil {
		return err
	}
	return requireIAMRow(res)
}

func (s *Store) CreatePermission(ctx context.Context, perm *iam.Permission) error {
	_, err := s.db.ExecContext(ctx, `
		insert into permissions (id, resource, action, description, active, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, perm.ID, perm.Resource, perm.Action, perm.Description, perm.Active, perm.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: permission %s already exists", iam.ErrConflict, perm.Key())
	}
	return err
}

func (s *Store) ListPermissions(ctx context.Context) ([]iam.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, resource, action, description, active, created_at
		from permissions order by resource, action
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []iam.Permission
	for rows.Next() {
		var p iam.Permission
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action, &p.Description, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id) values ($1, $2)
		`, roleID, permID); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: permission %s", iam.ErrNotFound, permID)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) AssignRole(ctx context.Context, principalID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into principal_roles (principal_id, role_id, created_at)
		values ($1, $2, now())
		on conflict (principal_id, role_id) do nothing
	`, principalID, roleID)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: principal or role", iam.ErrNotFound)
	}
	return err
}

func (s *Store) RemoveRole(ctx context.Context, principalID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from principal_roles where principal_id = $1 and role_id = $2
	`, principalID, roleID)
	if err != nil {
		return err
	}
	return requireIAMRow(res)
}

func (s *Store) PrincipalRoleIDs(ctx context.Context, principalID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select role_id from principal_roles where principal_id = $1 order by role_id
	`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roleIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		roleIDs = append(roleIDs, id)
	}
	return roleIDs, rows.Err()
}

func (s *Store) CreatePolicy(ctx context.Context, policy *iam.Policy) error {
	raw, err := marshalConditions(policy.Conditions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into policies (id, name, resource, action, effect, priority, active, conditions, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, policy.ID, policy.Name, policy.Resource, policy.Action, string(policy.Effect),
		policy.Priority, policy.Active, raw, policy.CreatedAt, policy.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: policy %q already exists", iam.ErrConflict, policy.Name)
	}
	return err
}

func (s *Store) GetPolicy(ctx context.Context, policyID string) (*iam.Policy, error) {
	var (
		p      iam.Policy
		effect string
		raw    []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, resource, action, effect, priority, active, conditions, created_at, updated_at
		from policies where id = $1
	`, policyID).Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &effect, &p.Priority, &p.Active, &raw, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, iam.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Effect = authz.Effect(effect)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p.Conditions); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]iam.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, resource, action, effect, priority, active, conditions, created_at, updated_at
		from policies order by priority desc, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []iam.Policy
	for rows.Next() {
		var (
			p      iam.Policy
			effect string
			raw    []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &effect, &p.Priority, &p.Active, &raw, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Effect = authz.Effect(effect)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p.Conditions); err != nil {
				return nil, err
			}
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (s *Store) UpdatePolicy(ctx context.Context, policy *iam.Policy) error {
	raw, err := marshalConditions(policy.Conditions)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update policies
		set name = $2, resource = $3, action = $4, effect = $5, priority = $6,
		    active = $7, conditions = $8, updated_at = $9
		where id = $1
	`, policy.ID, policy.Name, policy.Resource, policy.Action, string(policy.Effect),
		policy.Priority, policy.Active, raw, policy.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: policy %q already exists", iam.ErrConflict, policy.Name)
	}
	if err != nil {
		return err
	}
	return requireIAMRow(res)
}

func (s *Store) DeletePolicy(ctx context.Context, policyID string) error {
	res, err := s.db.ExecContext(ctx, `delete from policies where id = $1`, policyID)
	if err != nil {
		return err
	}
	return requireIAMRow(res)
}

func (s *Store) AddRelationship(ctx context.Context, rel *iam.Relationship) error {
	_, err := s.db.ExecContext(ctx, `
		insert into principal_relationships (principal_id, target_id, relationship, created_at)
		values ($1, $2, $3, $4)
		on conflict (principal_id, target_id, relationship) do nothing
	`, rel.PrincipalID, rel.TargetID, rel.Relationship, rel.CreatedAt)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: principal or target", iam.ErrNotFound)
	}
	return err
}

func (s *Store) RemoveRelationship(ctx context.Context, principalID, targetID, relationship string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from principal_relationships
		where principal_id = $1 and target_id = $2 and relationship = $3
	`, principalID, targetID, relationship)
	if err != nil {
		return err
	}
	return requireIAMRow(res)
}

func marshalConditions(doc map[string]any) ([]byte, error) {
	if len(doc) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

func requireIAMRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return iam.ErrNotFound
	}
	return nil
}
