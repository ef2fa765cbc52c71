package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"sentra.org/internal/audit"
	"sentra.org/internal/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	pair, err := a.sessions.Authenticate(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		a.handleLoginError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "session.login", map[string]any{
		"email":      strings.ToLower(strings.TrimSpace(req.Email)),
		"ip":         clientIP(r),
		"expires_at": pair.AccessExpiresAt.UTC().Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := a.sessions.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidToken):
			writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		case errors.Is(err, session.ErrAccountInactive):
			writeError(w, r, http.StatusForbidden, "account disabled")
		default:
			writeError(w, r, http.StatusInternalServerError, "session refresh failed")
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "session.refresh", map[string]any{
		"ip": clientIP(r),
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireIdentity(w, r) {
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tokenID, _, ok := strings.Cut(strings.TrimSpace(req.RefreshToken), ".")
	if !ok || tokenID == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	if err := a.sessions.RevokeSession(r.Context(), tokenID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			// Revoking an already dead token is not an error worth surfacing.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "session.logout", map[string]any{
		"token_id": tokenID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleLoginError maps authentication failures to wire responses. Invalid
// credentials and unknown accounts share one message; lockouts disclose the
// unlock time so clients can tell the user when to retry.
func (a *API) handleLoginError(w http.ResponseWriter, r *http.Request, err error) {
	if le, ok := session.IsLocked(err); ok {
		w.Header().Set("Retry-After", le.Until.UTC().Format(http.TimeFormat))
		payload := map[string]any{
			"error":        "account locked",
			"locked_until": le.Until.UTC().Format(time.RFC3339),
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusLocked, payload)
		return
	}
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, session.ErrAccountInactive):
		writeError(w, r, http.StatusForbidden, "account disabled")
	default:
		writeError(w, r, http.StatusInternalServerError, "login failed")
	}
}

func (a *API) requireIdentity(w http.ResponseWriter, r *http.Request) bool {
	if _, ok := session.IdentityFromContext(r.Context()); !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="sentra"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	return true
}
