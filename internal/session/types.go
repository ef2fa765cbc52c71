package session

import "time"

// Principal is an authenticatable account. Role membership, attributes and
// relationship edges live in their own tables and are referenced by id; the
// principal row carries only credential and lockout state.
type Principal struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	Active           bool       `json:"active"`
	EmailVerified    bool       `json:"email_verified"`
	FailedLoginCount int        `json:"failed_login_count"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Locked reports whether the account is locked at the given instant. The
// derived comparison is authoritative on every read path; stored lockout
// fields are only cleared explicitly on successful authentication.
func (p *Principal) Locked(now time.Time) bool {
	return p.LockedUntil != nil && p.LockedUntil.After(now)
}

// RefreshToken is the persisted half of a session. The client-held value is
// "id.secret"; only the sha256 of the secret is stored. Once revoked a row
// is never reused: rotation always inserts a replacement.
type RefreshToken struct {
	ID          string
	PrincipalID string
	TokenHash   string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	RevokedAt   *time.Time
}

// ActiveAt reports whether the token can still be presented.
func (t *RefreshToken) ActiveAt(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// TokenPair is what a successful login or rotation hands back.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// LoginAttempt is one row of the append-only login history.
type LoginAttempt struct {
	ID          string
	PrincipalID string
	Email       string
	IP          string
	UserAgent   string
	Success     bool
	Reason      string
	CreatedAt   time.Time
}

// Login attempt reasons recorded in history and metrics.
const (
	ReasonOK                 = "success"
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonLocked             = "locked"
	ReasonInactive           = "inactive"
)
