package session

import "testing"

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse", 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash must not be the plaintext")
	}
	if err := VerifyPassword(hash, "correct horse"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyPassword(hash, "battery staple"); err == nil {
		t.Fatal("wrong password must not verify")
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	if _, err := HashPassword("", 4); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestVerifyPasswordRejectsEmptyHash(t *testing.T) {
	if err := VerifyPassword("", "whatever"); err == nil {
		t.Fatal("expected error for empty hash")
	}
}

func TestHashPasswordDefaultCost(t *testing.T) {
	hash, err := HashPassword("pw", 0)
	if err != nil {
		t.Fatalf("hash with default cost: %v", err)
	}
	if err := VerifyPassword(hash, "pw"); err != nil {
		t.Fatalf("verify: %v", err)
	}
}
