package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"sentra.org/api/spec"
	"sentra.org/internal/authz"
	"sentra.org/internal/iam"
	"sentra.org/internal/obs"
	"sentra.org/internal/session"
)

// ReadyProbe reports whether the service can reach its backing stores.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer. It owns routing and translation between wire
// payloads and the session, authorization and directory services.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	sessions  *session.Service
	access    *authz.Authorizer
	directory *iam.Service

	rateBurst     int
	ratePerSecond int
}

type Option func(*API)

// WithRateLimit overrides the default per-IP request budget.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSecond = perSecond
	}
}

func New(rp ReadyProbe, version string, sessions *session.Service, access *authz.Authorizer, directory *iam.Service, opts ...Option) *API {
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    rp,
		version:       version,
		sessions:      sessions,
		access:        access,
		directory:     directory,
		rateBurst:     50,
		ratePerSecond: 25,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// OpenAPI YAML
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// credentials and sessions
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)

	// access decisions
	a.mux.HandleFunc("/v1/authz/check", a.handleAuthzCheck)
	a.mux.HandleFunc("/v1/authz/relationships/check", a.handleRelationshipCheck)

	// directory management
	a.mux.HandleFunc("/v1/principals", a.handlePrincipals)
	a.mux.HandleFunc("/v1/principals/", a.handlePrincipalScoped)
	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleScoped)
	a.mux.HandleFunc("/v1/permissions", a.handlePermissions)
	a.mux.HandleFunc("/v1/policies", a.handlePolicies)
	a.mux.HandleFunc("/v1/policies/", a.handlePolicyResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, a.rateBurst, a.ratePerSecond)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sentra-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "sentra-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
