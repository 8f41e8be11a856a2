package auth

import (
	"testing"
	"time"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestTokenManager_RoundTrip(t *testing.T) {
	m := NewTokenManager(testKey, time.Hour)
	in := Principal{UserID: "8f6c2f8e-3d0c-4b8e-a7a1-1c2d3e4f5a6b", Username: "tech1", Role: RoleTechnician}

	token, exp, err := m.Issue(in)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expected expiry in the future, got %v", exp)
	}

	out, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if out != in {
		t.Errorf("expected %+v, got %+v", in, out)
	}
}

func TestTokenManager_Expired(t *testing.T) {
	m := NewTokenManager(testKey, time.Minute)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := m.Issue(Principal{UserID: "u1", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	m.now = time.Now
	if _, err := m.Verify(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestTokenManager_WrongKey(t *testing.T) {
	token, _, err := NewTokenManager(testKey, time.Hour).Issue(Principal{UserID: "u1", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other := NewTokenManager([]byte("ffffffffffffffffffffffffffffffff"), time.Hour)
	if _, err := other.Verify(token); err == nil {
		t.Fatal("expected token signed with another key to be rejected")
	}
}

func TestTokenManager_NoKey(t *testing.T) {
	m := NewTokenManager(nil, time.Hour)
	if _, _, err := m.Issue(Principal{UserID: "u1", Role: RoleAdmin}); err == nil {
		t.Fatal("expected error without signing key")
	}
}

func TestPassword_HashAndCheck(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "s3cret-pass" {
		t.Fatal("expected hash to differ from plaintext")
	}
	if !CheckPassword("s3cret-pass", hash) {
		t.Error("expected matching password to check")
	}
	if CheckPassword("wrong", hash) {
		t.Error("expected wrong password to fail")
	}
}
