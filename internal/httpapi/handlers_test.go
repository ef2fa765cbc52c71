package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sentra.org/internal/authz"
	"sentra.org/internal/cache"
	"sentra.org/internal/iam"
	"sentra.org/internal/session"
)

// memState is an in-memory backing store shared by every service in the
// test server. It implements the session, authorization and directory store
// interfaces plus the cache.
type memState struct {
	mu sync.Mutex

	principals     map[string]*session.Principal
	byEmail        map[string]string
	attrs          map[string]map[string]string
	roles          map[string]*iam.Role
	perms          map[string]*iam.Permission
	rolePerms      map[string][]string
	principalRoles map[string]map[string]bool
	policies       map[string]*iam.Policy
	rels           map[string]bool
	tokens         map[string]*session.RefreshToken
	history        []session.LoginAttempt
	cached         map[string][]byte
}

func newMemState() *memState {
	return &memState{
		principals:     make(map[string]*session.Principal),
		byEmail:        make(map[string]string),
		attrs:          make(map[string]map[string]string),
		roles:          make(map[string]*iam.Role),
		perms:          make(map[string]*iam.Permission),
		rolePerms:      make(map[string][]string),
		principalRoles: make(map[string]map[string]bool),
		policies:       make(map[string]*iam.Policy),
		rels:           make(map[string]bool),
		tokens:         make(map[string]*session.RefreshToken),
		cached:         make(map[string][]byte),
	}
}

// --- session.PrincipalStore ---

func (m *memState) Find(_ context.Context, id string) (*session.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memState) FindByEmail(_ context.Context, email string) (*session.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *m.principals[id]
	return &cp, nil
}

func (m *memState) RecordLoginFailure(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return 0, session.ErrNotFound
	}
	p.FailedLoginCount++
	return p.FailedLoginCount, nil
}

func (m *memState) Lock(_ context.Context, id string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return session.ErrNotFound
	}
	p.LockedUntil = &until
	return nil
}

func (m *memState) ResetLoginState(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return session.ErrNotFound
	}
	p.FailedLoginCount = 0
	p.LockedUntil = nil
	p.LastLoginAt = &at
	return nil
}

func (m *memState) RoleNames(_ context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for roleID := range m.principalRoles[id] {
		if role, ok := m.roles[roleID]; ok && role.Active {
			names = append(names, role.Name)
		}
	}
	return names, nil
}

// --- session.TokenStore ---

func (m *memState) Create(_ context.Context, token *session.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *token
	m.tokens[token.ID] = &cp
	return nil
}

func (m *memState) Rotate(_ context.Context, tokenID, tokenHash string, now time.Time, replacement *session.RefreshToken) (*session.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[tokenID]
	if !ok || old.TokenHash != tokenHash || !old.ActiveAt(now) {
		return nil, session.ErrNotFound
	}
	revoked := now
	old.RevokedAt = &revoked
	rep := *replacement
	rep.PrincipalID = old.PrincipalID
	m.tokens[rep.ID] = &rep
	cp := *old
	return &cp, nil
}

func (m *memState) Revoke(_ context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenID]
	if !ok || t.RevokedAt != nil {
		return session.ErrNotFound
	}
	now := time.Now().UTC()
	t.RevokedAt = &now
	return nil
}

func (m *memState) RevokeAllForPrincipal(_ context.Context, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, t := range m.tokens {
		if t.PrincipalID == principalID && t.RevokedAt == nil {
			t.RevokedAt = &now
		}
	}
	return nil
}

// --- session.HistoryStore ---

func (m *memState) Append(_ context.Context, attempt *session.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, *attempt)
	return nil
}

// --- authz.Store ---

func (m *memState) PoliciesFor(_ context.Context, resource, action string) ([]authz.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []authz.Policy
	for _, p := range m.policies {
		if !p.Active || p.Resource != resource {
			continue
		}
		if p.Action != action && p.Action != authz.WildcardAction {
			continue
		}
		cond, err := authz.ParseCondition(p.Conditions)
		if err != nil {
			continue
		}
		out = append(out, authz.Policy{
			ID:        p.ID,
			Name:      p.Name,
			Resource:  p.Resource,
			Action:    p.Action,
			Effect:    p.Effect,
			Priority:  p.Priority,
			Active:    p.Active,
			Condition: cond,
		})
	}
	return out, nil
}

func (m *memState) PermissionClosure(_ context.Context, principalID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var keys []string
	for roleID := range m.principalRoles[principalID] {
		role, ok := m.roles[roleID]
		if !ok || !role.Active {
			continue
		}
		for _, permID := range m.rolePerms[roleID] {
			perm, ok := m.perms[permID]
			if !ok || !perm.Active {
				continue
			}
			if key := perm.Key(); !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	return keys, nil
}

func (m *memState) PrincipalAttributes(_ context.Context, principalID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attrs := make(map[string]string, len(m.attrs[principalID]))
	for k, v := range m.attrs[principalID] {
		attrs[k] = v
	}
	return attrs, nil
}

func (m *memState) HasRelationship(_ context.Context, principalID, targetID, relationship string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rels[principalID+"|"+targetID+"|"+relationship], nil
}

// --- iam.Store ---

func (m *memState) CreatePrincipal(_ context.Context, p *session.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[p.Email]; ok {
		return iam.ErrConflict
	}
	cp := *p
	m.principals[p.ID] = &cp
	m.byEmail[p.Email] = p.ID
	return nil
}

func (m *memState) SetPrincipalStatus(_ context.Context, principalID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[principalID]
	if !ok {
		return iam.ErrNotFound
	}
	p.Active = active
	return nil
}

func (m *memState) SetPrincipalAttribute(_ context.Context, principalID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.principals[principalID]; !ok {
		return iam.ErrNotFound
	}
	if m.attrs[principalID] == nil {
		m.attrs[principalID] = make(map[string]string)
	}
	m.attrs[principalID][key] = value
	return nil
}

func (m *memState) CreateRole(_ context.Context, role *iam.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == role.Name {
			return iam.ErrConflict
		}
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *memState) GetRole(_ context.Context, roleID string) (*iam.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleID]
	if !ok {
		return nil, iam.ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (m *memState) ListRoles(_ context.Context) ([]iam.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []iam.Role
	for _, role := range m.roles {
		out = append(out, *role)
	}
	return out, nil
}

func (m *memState) SetRoleActive(_ context.Context, roleID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleID]
	if !ok {
		return iam.ErrNotFound
	}
	role.Active = active
	return nil
}

func (m *memState) CreatePermission(_ context.Context, perm *iam.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.perms {
		if existing.Resource == perm.Resource && existing.Action == perm.Action {
			return iam.ErrConflict
		}
	}
	cp := *perm
	m.perms[perm.ID] = &cp
	return nil
}

func (m *memState) ListPermissions(_ context.Context) ([]iam.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []iam.Permission
	for _, perm := range m.perms {
		out = append(out, *perm)
	}
	return out, nil
}

func (m *memState) SetRolePermissions(_ context.Context, roleID string, permissionIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return iam.ErrNotFound
	}
	m.rolePerms[roleID] = append([]string(nil), permissionIDs...)
	return nil
}

func (m *memState) AssignRole(_ context.Context, principalID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.principals[principalID]; !ok {
		return iam.ErrNotFound
	}
	if _, ok := m.roles[roleID]; !ok {
		return iam.ErrNotFound
	}
	if m.principalRoles[principalID] == nil {
		m.principalRoles[principalID] = make(map[string]bool)
	}
	m.principalRoles[principalID][roleID] = true
	return nil
}

func (m *memState) RemoveRole(_ context.Context, principalID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.principalRoles[principalID], roleID)
	return nil
}

func (m *memState) PrincipalRoleIDs(_ context.Context, principalID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for roleID := range m.principalRoles[principalID] {
		out = append(out, roleID)
	}
	return out, nil
}

func (m *memState) CreatePolicy(_ context.Context, policy *iam.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *policy
	m.policies[policy.ID] = &cp
	return nil
}

func (m *memState) GetPolicy(_ context.Context, policyID string) (*iam.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[policyID]
	if !ok {
		return nil, iam.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memState) ListPolicies(_ context.Context) ([]iam.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []iam.Policy
	for _, p := range m.policies {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memState) UpdatePolicy(_ context.Context, policy *iam.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[policy.ID]; !ok {
		return iam.ErrNotFound
	}
	cp := *policy
	m.policies[policy.ID] = &cp
	return nil
}

func (m *memState) DeletePolicy(_ context.Context, policyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[policyID]; !ok {
		return iam.ErrNotFound
	}
	delete(m.policies, policyID)
	return nil
}

func (m *memState) AddRelationship(_ context.Context, rel *iam.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rels[rel.PrincipalID+"|"+rel.TargetID+"|"+rel.Relationship] = true
	return nil
}

func (m *memState) RemoveRelationship(_ context.Context, principalID, targetID, relationship string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rels, principalID+"|"+targetID+"|"+relationship)
	return nil
}

// --- cache.Cache ---

func (m *memState) CacheGet(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.cached[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return v, nil
}

// memCache adapts memState to the cache interface under distinct method
// names so Get does not collide with other store methods.
type memCache struct{ state *memState }

func (c memCache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.state.CacheGet(ctx, key)
}

func (c memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	c.state.cached[key] = append([]byte(nil), value...)
	return nil
}

func (c memCache) Delete(_ context.Context, keys ...string) error {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	for _, key := range keys {
		delete(c.state.cached, key)
	}
	return nil
}

func (c memCache) DeleteByPrefix(_ context.Context, prefix string) error {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	for key := range c.state.cached {
		if strings.HasPrefix(key, prefix) {
			delete(c.state.cached, key)
		}
	}
	return nil
}

// --- test server harness ---

type testAPI struct {
	t      *testing.T
	server *httptest.Server
	state  *memState
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	state := newMemState()

	signer, err := session.NewJWTSigner("test-secret-for-http-handlers", "sentra", 15*time.Minute)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	sessions, err := session.NewService(state, state, state, state, signer)
	if err != nil {
		t.Fatalf("session service: %v", err)
	}
	permCache := authz.NewPermissionCache(memCache{state}, state, time.Minute)
	access, err := authz.NewAuthorizer(state, permCache)
	if err != nil {
		t.Fatalf("authorizer: %v", err)
	}
	directory, err := iam.NewService(state, permCache, iam.WithBcryptCost(4))
	if err != nil {
		t.Fatalf("iam service: %v", err)
	}

	api := New(ReadyProbe{}, "test", sessions, access, directory, WithRateLimit(1000, 1000))
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	return &testAPI{t: t, server: server, state: state}
}

// seedPrincipal creates a principal with a role granting the given
// permission keys and returns the principal id.
func (a *testAPI) seedPrincipal(email, password string, permKeys ...string) string {
	a.t.Helper()
	hash, err := session.HashPassword(password, 4)
	if err != nil {
		a.t.Fatalf("hash password: %v", err)
	}
	a.state.mu.Lock()
	defer a.state.mu.Unlock()

	id := fmt.Sprintf("prin-%d", len(a.state.principals)+1)
	now := time.Now().UTC()
	a.state.principals[id] = &session.Principal{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	a.state.byEmail[email] = id

	if len(permKeys) > 0 {
		roleID := "role-" + id
		a.state.roles[roleID] = &iam.Role{ID: roleID, Name: "role for " + id, Active: true}
		for i, key := range permKeys {
			resource, action, _ := strings.Cut(key, ":")
			permID := fmt.Sprintf("perm-%s-%d", id, i)
			a.state.perms[permID] = &iam.Permission{ID: permID, Resource: resource, Action: action, Active: true}
			a.state.rolePerms[roleID] = append(a.state.rolePerms[roleID], permID)
		}
		a.state.principalRoles[id] = map[string]bool{roleID: true}
	}
	return id
}

func (a *testAPI) request(method, path string, body any, headers map[string]string) *http.Response {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	if err != nil {
		a.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.server.Client().Do(req)
	if err != nil {
		a.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (a *testAPI) post(path string, body any, headers map[string]string) *http.Response {
	return a.request(http.MethodPost, path, body, headers)
}

// login performs a real login round trip and returns the token pair.
func (a *testAPI) login(email, password string) (session.TokenPair, int) {
	a.t.Helper()
	resp := a.post("/v1/auth/login", map[string]any{"email": email, "password": password}, nil)
	defer resp.Body.Close()
	var pair session.TokenPair
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
			a.t.Fatalf("decode token pair: %v", err)
		}
	}
	return pair, resp.StatusCode
}

func (a *testAPI) authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

// --- basic endpoint tests ---

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	resp := api.request(http.MethodGet, "/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["service"] != "sentra-api" {
		t.Fatalf("unexpected service name: %v", body["service"])
	}
}

func TestReadyWithoutDB(t *testing.T) {
	api := newTestAPI(t)
	resp := api.request(http.MethodGet, "/readyz", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	api := newTestAPI(t)
	resp := api.request(http.MethodGet, "/v1/nope", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
