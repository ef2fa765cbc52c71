package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentra.org/internal/ids"
	"sentra.org/internal/obs"
)

const defaultRefreshTTL = 14 * 24 * time.Hour

// Service owns the credential lifecycle: password verification, the lockout
// state machine and token issuance, rotation and revocation.
type Service struct {
	principals PrincipalStore
	tokens     TokenStore
	history    HistoryStore
	perms      PermissionSource
	signer     TokenSigner

	lockout    LockoutPolicy
	refreshTTL time.Duration
	now        func() time.Time
}

// ServiceOption configures the Service.
type ServiceOption func(*Service) error

// WithLockoutPolicy overrides the default 5-failure/30-minute policy.
func WithLockoutPolicy(p LockoutPolicy) ServiceOption {
	return func(s *Service) error {
		if err := p.Validate(); err != nil {
			return err
		}
		s.lockout = p
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: refresh ttl must be positive", ErrInvalidInput)
		}
		s.refreshTTL = ttl
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService wires the credential service to its collaborators.
func NewService(principals PrincipalStore, tokens TokenStore, history HistoryStore, perms PermissionSource, signer TokenSigner, opts ...ServiceOption) (*Service, error) {
	if principals == nil || tokens == nil || history == nil || perms == nil || signer == nil {
		return nil, fmt.Errorf("%w: all collaborators are required", ErrInvalidInput)
	}
	s := &Service{
		principals: principals,
		tokens:     tokens,
		history:    history,
		perms:      perms,
		signer:     signer,
		lockout:    DefaultLockoutPolicy(),
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Authenticate verifies credentials and, on success, resets the lockout
// state and issues a fresh token pair. Unknown email and wrong password are
// indistinguishable to the caller; lockout failures carry the unlock time.
func (s *Service) Authenticate(ctx context.Context, email, password, ip, userAgent string) (TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		obs.LoginOutcome(ReasonInvalidCredentials)
		return TokenPair{}, ErrInvalidCredentials
	}

	principal, err := s.principals.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.LoginOutcome(ReasonInvalidCredentials)
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, err
	}

	now := s.now().UTC()

	if !principal.Active {
		obs.LoginOutcome(ReasonInactive)
		s.appendHistory(ctx, principal, email, ip, userAgent, false, ReasonInactive)
		return TokenPair{}, ErrAccountInactive
	}
	if principal.Locked(now) {
		obs.LoginOutcome(ReasonLocked)
		s.appendHistory(ctx, principal, email, ip, userAgent, false, ReasonLocked)
		return TokenPair{}, &LockedError{Until: *principal.LockedUntil}
	}

	if err := VerifyPassword(principal.PasswordHash, password); err != nil {
		return TokenPair{}, s.recordFailure(ctx, principal, email, ip, userAgent, now)
	}

	// Success: clear the counter and the lock explicitly rather than
	// relying on the lock window having elapsed.
	if err := s.principals.ResetLoginState(ctx, principal.ID, now); err != nil {
		return TokenPair{}, err
	}
	s.appendHistory(ctx, principal, email, ip, userAgent, true, ReasonOK)
	obs.LoginOutcome(ReasonOK)

	pair, err := s.issuePair(ctx, principal.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func (s *Service) recordFailure(ctx context.Context, principal *Principal, email, ip, userAgent string, now time.Time) error {
	count, err := s.principals.RecordLoginFailure(ctx, principal.ID)
	if err != nil {
		return err
	}
	s.appendHistory(ctx, principal, email, ip, userAgent, false, ReasonInvalidCredentials)
	if s.lockout.Exceeded(count) {
		until := s.lockout.LockUntil(now)
		if err := s.principals.Lock(ctx, principal.ID, until); err != nil {
			return err
		}
		obs.LoginOutcome(ReasonLocked)
		return &LockedError{Until: until}
	}
	obs.LoginOutcome(ReasonInvalidCredentials)
	return ErrInvalidCredentials
}

// RefreshSession rotates a refresh token: the presented token is revoked and
// a replacement pair is issued in one storage transaction. A token can be
// rotated exactly once; replays fail with ErrInvalidToken.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (TokenPair, error) {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		obs.TokenRotation("rejected")
		return TokenPair{}, ErrInvalidToken
	}
	now := s.now().UTC()

	replacementSecret, replacement, err := s.newRefreshRecord(now)
	if err != nil {
		return TokenPair{}, err
	}

	old, err := s.tokens.Rotate(ctx, tokenID, hashSecret(secret), now, replacement)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.TokenRotation("rejected")
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	replacement.PrincipalID = old.PrincipalID

	principal, err := s.principals.Find(ctx, old.PrincipalID)
	if err != nil {
		return TokenPair{}, err
	}
	if !principal.Active {
		// Close the session chain instead of letting a disabled account
		// keep rotating.
		_ = s.tokens.Revoke(ctx, replacement.ID)
		obs.TokenRotation("rejected")
		return TokenPair{}, ErrAccountInactive
	}

	access, accessExp, err := s.signAccess(ctx, principal.ID)
	if err != nil {
		return TokenPair{}, err
	}
	obs.TokenRotation("success")
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     replacement.ID + "." + replacementSecret,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: replacement.ExpiresAt,
	}, nil
}

// RevokeSession marks one refresh token revoked. Already-issued access
// tokens stay valid until they expire; they are never persisted, so there is
// nothing to invalidate.
func (s *Service) RevokeSession(ctx context.Context, tokenID string) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return fmt.Errorf("%w: token id is required", ErrInvalidInput)
	}
	return s.tokens.Revoke(ctx, tokenID)
}

// RevokeAllSessions revokes every active refresh token of a principal.
func (s *Service) RevokeAllSessions(ctx context.Context, principalID string) error {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return fmt.Errorf("%w: principal id is required", ErrInvalidInput)
	}
	return s.tokens.RevokeAllForPrincipal(ctx, principalID)
}

// VerifyAccessToken validates a bearer token and returns its claims.
func (s *Service) VerifyAccessToken(token string) (*AccessClaims, error) {
	return s.signer.Verify(token)
}

func (s *Service) issuePair(ctx context.Context, principalID string, now time.Time) (TokenPair, error) {
	access, accessExp, err := s.signAccess(ctx, principalID)
	if err != nil {
		return TokenPair{}, err
	}
	secret, record, err := s.newRefreshRecord(now)
	if err != nil {
		return TokenPair{}, err
	}
	record.PrincipalID = principalID
	if err := s.tokens.Create(ctx, record); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     record.ID + "." + secret,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

func (s *Service) signAccess(ctx context.Context, principalID string) (string, time.Time, error) {
	roles, err := s.principals.RoleNames(ctx, principalID)
	if err != nil {
		return "", time.Time{}, err
	}
	perms, err := s.perms.PermissionClosure(ctx, principalID)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.signer.Issue(principalID, roles, perms)
}

func (s *Service) newRefreshRecord(now time.Time) (string, *RefreshToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	record := &RefreshToken{
		ID:        ids.New(),
		TokenHash: hashSecret(secret),
		ExpiresAt: now.Add(s.refreshTTL),
	}
	return secret, record, nil
}

func (s *Service) appendHistory(ctx context.Context, principal *Principal, email, ip, userAgent string, success bool, reason string) {
	attempt := &LoginAttempt{
		ID:          ids.New(),
		PrincipalID: principal.ID,
		Email:       email,
		IP:          ip,
		UserAgent:   userAgent,
		Success:     success,
		Reason:      reason,
		CreatedAt:   s.now().UTC(),
	}
	// History is observability, not control flow; a failed append must not
	// turn a decided authentication into an error.
	if err := s.history.Append(ctx, attempt); err != nil {
		obs.LogEvent(map[string]any{
			"level": "error",
			"msg":   "login history append failed",
			"error": err.Error(),
		})
	}
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
