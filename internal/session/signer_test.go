package session

import (
	"errors"
	"testing"
	"time"
)

func TestJWTSignerRoundTrip(t *testing.T) {
	signer, err := NewJWTSigner("round-trip-secret", "sentra", 15*time.Minute)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	token, exp, err := signer.Issue("p1", []string{"admin"}, []string{"roles:admin"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if remaining := time.Until(exp); remaining < 14*time.Minute || remaining > 16*time.Minute {
		t.Fatalf("unexpected expiry window: %s", remaining)
	}

	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "p1" || claims.Issuer != "sentra" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected a token id claim")
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "admin" {
		t.Fatalf("roles not carried: %v", claims.Roles)
	}
	if len(claims.Permissions) != 1 || claims.Permissions[0] != "roles:admin" {
		t.Fatalf("permissions not carried: %v", claims.Permissions)
	}
}

func TestJWTSignerRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := issuedAt
	signer, err := NewJWTSigner("expiry-secret", "sentra", time.Minute,
		WithJWTClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	token, _, err := signer.Issue("p1", nil, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := signer.Verify(token); err != nil {
		t.Fatalf("verify before expiry: %v", err)
	}

	clock = issuedAt.Add(2 * time.Minute)
	if _, err := signer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestJWTSignerRejectsForeignSignature(t *testing.T) {
	a, err := NewJWTSigner("secret-a", "sentra", time.Minute)
	if err != nil {
		t.Fatalf("signer a: %v", err)
	}
	b, err := NewJWTSigner("secret-b", "sentra", time.Minute)
	if err != nil {
		t.Fatalf("signer b: %v", err)
	}

	token, _, err := a.Issue("p1", nil, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign key, got %v", err)
	}
}

func TestJWTSignerRejectsWrongIssuer(t *testing.T) {
	a, err := NewJWTSigner("shared-secret", "other-service", time.Minute)
	if err != nil {
		t.Fatalf("signer a: %v", err)
	}
	b, err := NewJWTSigner("shared-secret", "sentra", time.Minute)
	if err != nil {
		t.Fatalf("signer b: %v", err)
	}

	token, _, err := a.Issue("p1", nil, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for issuer mismatch, got %v", err)
	}
}

func TestJWTSignerRejectsGarbage(t *testing.T) {
	signer, err := NewJWTSigner("garbage-secret", "sentra", time.Minute)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	for _, raw := range []string{"", "   ", "not.a.jwt", "a.b"} {
		if _, err := signer.Verify(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", raw, err)
		}
	}
}

func TestJWTSignerValidation(t *testing.T) {
	if _, err := NewJWTSigner("  ", "sentra", time.Minute); err == nil {
		t.Fatal("expected error for blank secret")
	}
	if _, err := NewJWTSigner("secret", "sentra", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
	signer, err := NewJWTSigner("secret", "sentra", time.Minute)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	if _, _, err := signer.Issue("  ", nil, nil); err == nil {
		t.Fatal("expected error for blank principal id")
	}
}
