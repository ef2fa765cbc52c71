package iam

import (
	"time"

	"sentra.org/internal/authz"
)

// Role groups permissions. Only active roles contribute to a principal's
// permission closure.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a (resource, action) capability; the pair is unique. Its
// canonical string form is "resource:action".
type Permission struct {
	ID          string    `json:"id"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key returns the canonical permission string.
func (p Permission) Key() string {
	return authz.PermissionKey(p.Resource, p.Action)
}

// Policy is the stored form of an access policy: the condition document is
// kept as written and parsed into its evaluable AST when the decision engine
// loads it.
type Policy struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Resource   string         `json:"resource"`
	Action     string         `json:"action"` // authz.WildcardAction covers every action
	Effect     authz.Effect   `json:"effect"`
	Priority   int            `json:"priority"`
	Active     bool           `json:"active"`
	Conditions map[string]any `json:"conditions,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Relationship is a typed edge between two principals, consumed by the
// supplementary relationship check.
type Relationship struct {
	PrincipalID  string    `json:"principal_id"`
	TargetID     string    `json:"target_id"`
	Relationship string    `json:"relationship"`
	CreatedAt    time.Time `json:"created_at"`
}

// Attribute is one entry of a principal's ABAC attribute map.
type Attribute struct {
	PrincipalID string `json:"principal_id"`
	Key         string `json:"key"`
	Value       string `json:"value"`
}
