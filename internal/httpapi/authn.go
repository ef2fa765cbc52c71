package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"sentra.org/internal/session"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Permission keys guarding the management surface. They line up with the
// built-in permission catalog shipped in the seeds.
const (
	permManagePrincipals = "principals:admin"
	permManageRoles      = "roles:admin"
	permManagePolicies   = "policies:admin"
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/openapi.yaml",
	"/v1/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.sessions == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="sentra"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.sessions.VerifyAccessToken(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="sentra", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := session.ContextWithIdentity(r.Context(), session.IdentityFromClaims(claims))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensurePermissions writes a 401/403 response and returns false unless the
// caller holds every listed permission.
func (a *API) ensurePermissions(w http.ResponseWriter, r *http.Request, perms ...string) bool {
	id, ok := session.IdentityFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="sentra"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	for _, perm := range perms {
		if !id.HasPermission(perm) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="sentra", error="insufficient_scope"`)
			writeError(w, r, http.StatusForbidden, "permission denied")
			return false
		}
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
