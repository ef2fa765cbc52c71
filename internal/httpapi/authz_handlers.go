package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"sentra.org/internal/audit"
	"sentra.org/internal/authz"
	"sentra.org/internal/session"
)

type checkRequest struct {
	PrincipalID string         `json:"principal_id"`
	Resource    string         `json:"resource"`
	Action      string         `json:"action"`
	Context     map[string]any `json:"context"`
}

type relationshipCheckRequest struct {
	PrincipalID  string `json:"principal_id"`
	TargetID     string `json:"target_id"`
	Relationship string `json:"relationship"`
}

func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := session.IdentityFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="sentra"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	principalID := strings.TrimSpace(req.PrincipalID)
	if principalID == "" {
		principalID = id.PrincipalID
	}
	// Checking on behalf of another principal is a management operation.
	if principalID != id.PrincipalID && !a.ensurePermissions(w, r, permManagePrincipals) {
		return
	}

	decision, err := a.access.Authorize(r.Context(), principalID, req.Resource, req.Action, req.Context)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "authz.check", map[string]any{
		"subject":  principalID,
		"resource": strings.TrimSpace(req.Resource),
		"action":   strings.TrimSpace(req.Action),
		"allowed":  decision.Allowed,
		"source":   string(decision.Source),
	})
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleRelationshipCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := session.IdentityFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="sentra"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req relationshipCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	principalID := strings.TrimSpace(req.PrincipalID)
	if principalID == "" {
		principalID = id.PrincipalID
	}
	if principalID != id.PrincipalID && !a.ensurePermissions(w, r, permManagePrincipals) {
		return
	}

	decision, err := a.access.HasRelationship(r.Context(), principalID, req.TargetID, req.Relationship)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func handleAuthzError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, authz.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "authorization check failed")
	}
}
