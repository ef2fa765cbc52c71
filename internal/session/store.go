package session

import (
	"context"
	"time"
)

// PrincipalStore reads and mutates principal credential and lockout state.
// The credential service never deletes a principal.
//
// RecordLoginFailure must be an atomic increment in the backing store;
// concurrent failed attempts on the same principal must each observe a
// distinct counter value.
type PrincipalStore interface {
	Find(ctx context.Context, id string) (*Principal, error)
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	// RecordLoginFailure increments the consecutive-failure counter and
	// returns the new value.
	RecordLoginFailure(ctx context.Context, id string) (int, error)
	// Lock sets the lockout deadline.
	Lock(ctx context.Context, id string, until time.Time) error
	// ResetLoginState clears the failure counter and the lock and stamps
	// the last successful login, all in one write.
	ResetLoginState(ctx context.Context, id string, at time.Time) error
	// RoleNames lists the names of the principal's active roles for token
	// claims.
	RoleNames(ctx context.Context, id string) ([]string, error)
}

// TokenStore manages refresh token rows. Rotate is the serialization point
// for concurrent rotations: it must atomically mark the matching active row
// revoked, insert the replacement bound to the same principal, and return
// the revoked row — all in one storage transaction, so that exactly one of
// two concurrent rotations of the same token succeeds.
type TokenStore interface {
	Create(ctx context.Context, token *RefreshToken) error
	Rotate(ctx context.Context, tokenID, tokenHash string, now time.Time, replacement *RefreshToken) (*RefreshToken, error)
	Revoke(ctx context.Context, tokenID string) error
	RevokeAllForPrincipal(ctx context.Context, principalID string) error
}

// HistoryStore appends to the immutable login history.
type HistoryStore interface {
	Append(ctx context.Context, attempt *LoginAttempt) error
}

// PermissionSource resolves a principal's permission closure for token
// claims. Satisfied by the authz persistence gateway.
type PermissionSource interface {
	PermissionClosure(ctx context.Context, principalID string) ([]string, error)
}
