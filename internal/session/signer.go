package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims are the verified contents of an access token: the principal
// id as subject plus its role names and permission keys. Access tokens are
// never persisted; they simply expire.
type AccessClaims struct {
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// TokenSigner issues and validates signed access tokens. The concrete
// algorithm and format are this interface's concern, not the credential
// service's.
type TokenSigner interface {
	Issue(principalID string, roles, permissions []string) (token string, expiresAt time.Time, err error)
	Verify(token string) (*AccessClaims, error)
}

// JWTSigner signs HS256 JWTs.
type JWTSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// JWTOption configures a JWTSigner.
type JWTOption func(*JWTSigner)

// WithJWTClock overrides the signer's time source.
func WithJWTClock(fn func() time.Time) JWTOption {
	return func(s *JWTSigner) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewJWTSigner builds a signer. ttl must be positive and the secret
// non-empty.
func NewJWTSigner(secret, issuer string, ttl time.Duration, opts ...JWTOption) (*JWTSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session: signing secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session: access token ttl must be positive")
	}
	s := &JWTSigner{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *JWTSigner) Issue(principalID string, roles, permissions []string) (string, time.Time, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return "", time.Time{}, errors.New("session: principal id is required")
	}
	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := AccessClaims{
		Roles:       roles,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (s *JWTSigner) Verify(token string) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
