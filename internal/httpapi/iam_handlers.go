package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"sentra.org/internal/audit"
	"sentra.org/internal/iam"
)

type createPrincipalRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type setStatusRequest struct {
	Active bool `json:"active"`
}

type setAttributeRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

type relationshipRequest struct {
	TargetID     string `json:"target_id"`
	Relationship string `json:"relationship"`
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createPermissionRequest struct {
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

type updateRolePermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids"`
}

func (a *API) handlePrincipals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, permManagePrincipals) {
		return
	}
	var req createPrincipalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	principal, err := a.directory.CreatePrincipal(r.Context(), req.Email, req.Password)
	if err != nil {
		handleIAMError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "iam.principal.create", map[string]any{
		"subject": principal.ID,
		"email":   principal.Email,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/principals/%s", principal.ID))
	writeJSON(w, http.StatusCreated, principal)
}

func (a *API) handlePrincipalScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/principals/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	principalID := parts[0]
	switch parts[1] {
	case "status":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handlePrincipalStatus(w, r, principalID)
	case "attributes":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handlePrincipalAttributes(w, r, principalID)
	case "roles":
		switch len(parts) {
		case 2:
			a.handlePrincipalRoles(w, r, principalID)
		case 3:
			a.handlePrincipalRole(w, r, principalID, parts[2])
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	case "relationships":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handlePrincipalRelationships(w, r, principalID)
	case "sessions":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handlePrincipalSessions(w, r, principalID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handlePrincipalStatus(w http.ResponseWriter, r *http.Request, principalID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermissions(w, r, permManagePrincipals) {
		return
	}
	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.directory.SetPrincipalStatus(r.Context(), principalID, req.Active); err != nil {
		handleIAMError(w, r, err)
		return
	}
	// Disabling an account kills its refresh tokens as well.
	if !req.Active && a.sessions != nil {
		if err := a.sessions.RevokeAllSessions(r.Context(), principalID); err != nil {
			writeError(w, r, http.StatusInternalServerError, "session revocation failed")
			return
		}
	}
	_ = audit.LogEvent(r.Context(), "iam.principal.status", map[string]any{
		"subject": principalID,
		"active":  req.Active,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePrincipalAttributes(w http.ResponseWriter, r *http.Request, principalID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermissions(w, r, permManagePrincipals) {
		return
	}
	var req setAttributeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.directory.SetPrincipalAttribute(r.Context(), principalID, req.Key, req.Value); err != nil {
		handleIAMError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "iam.principal.attribute", map[string]any{
		"subject": principalID,
		"key":     req.Key,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePrincipalRoles(w http.ResponseWriter, r *http.Request, principalID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, permManageRoles) {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.RoleID = strings.TrimSpace(req.RoleID)
	if req.RoleID == "" {
		writeError(w, r, http.StatusBadRequest, "role_id is required")
		return
	}
	if err := a.directory.AssignRole(r.Context(), principalID, req.RoleID); err != nil {
		handleIAMError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "iam.principal.assign_role", map[string]any{
		"subject": principalID,
		"role_id": req.RoleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePrincipalRole(w http.ResponseWriter, r *http.Request, principalID, roleID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermissions(w, r, permManageRoles) {
		return
	}
	if err := a.directory.RemoveRole(r.Context(), principalID, roleID); err != nil {
		handleIAMError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "iam.principal.remove_role", map[string]any{
		"subject": principalID,
		"role_id": roleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePrincipalRelationships(w http.ResponseWriter, r *http.Request, principalID string) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
		return
	}
	if !a.ensurePermissions(w, r, permManagePrincipals) {
		return
	}
	var req relationshipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var err error
	var event string
	if r.Method == http.MethodPost {
		err = a.directory.AddRelationship(r.Context(), principalID, req.TargetID, req.Relationship)
		event = "iam.relationship.add"
	} else {
		err = a.directory.RemoveRelationship(r.Context(), principalID, req.TargetID, req.Relationship)
		event = "iam.relationship.remove"
	}
	if err != nil {
		handleIAMError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"subject":      principalID,
		"target_id":    req.TargetID,
		"relationship": req.Relationship,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePrincipalSessions(w http.ResponseWriter, r *http.Request, principalID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermissions(w, r, permManagePrincipals) {
		return
	}
	if err := a.sessions.RevokeAllSessions(r.Context(), principalID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "session revocation failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "iam.principal.revoke_sessions", map[string]any{
		"subject": principalID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, permManageRoles) {
			return
		}
		roles, err := a.directory.ListRoles(r.Context())
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if !a.ensurePermissions(w, r, permManageRoles) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.directory.CreateRole(r.Context(), req.Name, req.Description)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "iam.role.create", map[string]any{
			"role_id": role.ID,
			"name":    role.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) > 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	roleID := parts[0]
	if len(parts) == 1 {
		a.handleRoleByID(w, r, roleID)
		return
	}
	switch parts[1] {
	case "permissions":
		a.handleRolePermissions(w, r, roleID)
	case "status":
		a.handleRoleStatus(w, r, roleID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRoleByID(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r, permManageRoles) {
		return
	}
	role, err := a.directory.GetRole(r.Context(), roleID)
	if err != nil {
		handleIAMError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermissions(w, r, permManageRoles) {
		return
	}
	var req updateRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.directory.SetRolePermissions(r.Context(), roleID, req.PermissionIDs); err != nil {
		handleIAMError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "iam.role.permissions", map[string]any{
		"role_id": roleID,
		"count":   len(req.PermissionIDs),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRoleStatus(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermissions(w, r, permManageRoles) {
		return
	}
	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.directory.SetRoleActive(r.Context(), roleID, req.Active); err != nil {
		handleIAMError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "iam.role.status", map[string]any{
		"role_id": roleID,
		"active":  req.Active,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, permManageRoles) {
			return
		}
		perms, err := a.directory.ListPermissions(r.Context())
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
	case http.MethodPost:
		if !a.ensurePermissions(w, r, permManageRoles) {
			return
		}
		var req createPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		perm, err := a.directory.CreatePermission(r.Context(), req.Resource, req.Action, req.Description)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "iam.permission.create", map[string]any{
			"permission_id": perm.ID,
			"key":           perm.Key(),
		})
		writeJSON(w, http.StatusCreated, perm)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePolicies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, permManagePolicies) {
			return
		}
		policies, err := a.directory.ListPolicies(r.Context())
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
	case http.MethodPost:
		if !a.ensurePermissions(w, r, permManagePolicies) {
			return
		}
		var in iam.PolicyInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		policy, err := a.directory.CreatePolicy(r.Context(), in)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "iam.policy.create", map[string]any{
			"policy_id": policy.ID,
			"name":      policy.Name,
			"effect":    string(policy.Effect),
			"priority":  policy.Priority,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/policies/%s", policy.ID))
		writeJSON(w, http.StatusCreated, policy)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePolicyResource(w http.ResponseWriter, r *http.Request) {
	policyID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/policies/"), "/")
	if policyID == "" || strings.Contains(policyID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodPut:
		if !a.ensurePermissions(w, r, permManagePolicies) {
			return
		}
		var in iam.PolicyInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		policy, err := a.directory.UpdatePolicy(r.Context(), policyID, in)
		if err != nil {
			handleIAMError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "iam.policy.update", map[string]any{
			"policy_id": policy.ID,
		})
		writeJSON(w, http.StatusOK, policy)
	case http.MethodDelete:
		if !a.ensurePermissions(w, r, permManagePolicies) {
			return
		}
		if err := a.directory.DeletePolicy(r.Context(), policyID); err != nil {
			handleIAMError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "iam.policy.delete", map[string]any{
			"policy_id": policyID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func handleIAMError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, iam.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, iam.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, iam.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "directory operation failed")
	}
}
