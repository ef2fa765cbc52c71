package authz

import (
	"fmt"
	"strings"
	"time"
)

// Effect is the outcome a policy produces when its condition matches.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// WildcardAction scopes a policy to every action on its resource.
const WildcardAction = "*"

// ParseEffect normalizes and validates a stored effect value.
func ParseEffect(s string) (Effect, error) {
	switch Effect(strings.TrimSpace(strings.ToLower(s))) {
	case EffectAllow:
		return EffectAllow, nil
	case EffectDeny:
		return EffectDeny, nil
	}
	return "", fmt.Errorf("%w: unsupported effect %q", ErrInvalidInput, s)
}

// Policy is an active, already-parsed access policy. Higher Priority is
// evaluated first; ties break on ascending ID so evaluation order is
// reproducible.
type Policy struct {
	ID        string
	Name      string
	Resource  string
	Action    string // WildcardAction matches every action on Resource
	Effect    Effect
	Priority  int
	Active    bool
	Condition Condition
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Source identifies which subsystem produced a decision.
type Source string

const (
	SourceNone         Source = "none"
	SourcePermission   Source = "permission"
	SourcePolicy       Source = "policy"
	SourceRelationship Source = "relationship"
)

// Decision is the result of an authorization check. A denial is a normal
// return value, not an error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Source  Source `json:"source"`
}

// PermissionKey is the canonical "resource:action" form used in permission
// closures and token claims.
func PermissionKey(resource, action string) string {
	return resource + ":" + action
}
