package pg

import (
	"context"
	"encoding/json"

	"sentra.org/internal/authz"
	"sentra.org/internal/obs"
)

var _ authz.Store = (*Store)(nil)

// PoliciesFor loads the active policies matching (resource, action) exactly
// plus the resource's wildcard-action policies. Condition documents are
// parsed here, once per load; a row that no longer parses is skipped rather
// than allowed to take down the whole decision.
func (s *Store) PoliciesFor(ctx context.Context, resource, action string) ([]authz.Policy, error) {
	var policies []authz.Policy
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			select id, name, resource, action, effect, priority, conditions, created_at, updated_at
			from policies
			where resource = $1 and action in ($2, $3) and active
		`, resource, action, authz.WildcardAction)
		if err != nil {
			return err
		}
		defer rows.Close()

		policies = policies[:0]
		for rows.Next() {
			var (
				p      authz.Policy
				effect string
				raw    []byte
			)
			if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &effect, &p.Priority, &raw, &p.CreatedAt, &p.UpdatedAt); err != nil {
				return err
			}
			p.Active = true
			if p.Effect, err = authz.ParseEffect(effect); err != nil {
				skipPolicy(p.ID, err)
				continue
			}
			var doc map[string]any
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &doc); err != nil {
					skipPolicy(p.ID, err)
					continue
				}
			}
			if p.Condition, err = authz.ParseCondition(doc); err != nil {
				skipPolicy(p.ID, err)
				continue
			}
			policies = append(policies, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return policies, nil
}

func skipPolicy(id string, err error) {
	obs.LogEvent(map[string]any{
		"level":     "error",
		"msg":       "skipping unparseable policy",
		"policy_id": id,
		"error":     err.Error(),
	})
}

// PermissionClosure aggregates "resource:action" keys across the
// principal's active roles' active permissions.
func (s *Store) PermissionClosure(ctx context.Context, principalID string) ([]string, error) {
	var perms []string
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			select distinct p.resource, p.action
			from principal_roles pr
			join roles r on r.id = pr.role_id and r.active
			join role_permissions rp on rp.role_id = r.id
			join permissions p on p.id = rp.permission_id and p.active
			where pr.principal_id = $1
			order by p.resource, p.action
		`, principalID)
		if err != nil {
			return err
		}
		defer rows.Close()

		perms = perms[:0]
		for rows.Next() {
			var resource, action string
			if err := rows.Scan(&resource, &action); err != nil {
				return err
			}
			perms = append(perms, authz.PermissionKey(resource, action))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return perms, nil
}

// HasRelationship checks for a typed edge between two principals.
func (s *Store) HasRelationship(ctx context.Context, principalID, targetID, relationship string) (bool, error) {
	var exists bool
	err := withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			select exists(
				select 1 from principal_relationships
				where principal_id = $1 and target_id = $2 and relationship = $3
			)
		`, principalID, targetID, relationship).Scan(&exists)
	})
	return exists, err
}
