package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testJWTConfig(ttl time.Duration) *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      ttl,
	}
}

func TestSessionFromToken(t *testing.T) {
	token, err := GenerateToken(testJWTConfig(time.Hour), "u-1", "alice", false)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	s, err := SessionFromToken(token, time.Now())
	if err != nil {
		t.Fatalf("session from token: %v", err)
	}
	if s.UserID != "u-1" || s.Username != "alice" || s.Token != token {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.ExpiresAt.IsZero() {
		t.Fatalf("expected expiry to be set")
	}
}

func TestParseToken_RejectsExpired(t *testing.T) {
	token, err := GenerateToken(testJWTConfig(time.Minute), "u-1", "alice", false)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := ParseToken(token, time.Now().Add(2*time.Minute)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseToken_FallsBackToSubject(t *testing.T) {
	claims := jwt.MapClaims{
		"sub":      "u-9",
		"username": "zoe",
		"exp":      time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	parsed, err := ParseToken(token, time.Now())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.UserID != "u-9" {
		t.Fatalf("expected user id from sub claim, got %q", parsed.UserID)
	}
}

func TestParseToken_RejectsGarbage(t *testing.T) {
	tests := []string{"", "not-a-jwt", "a.b.c"}
	for _, tok := range tests {
		if _, err := ParseToken(tok, time.Now()); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("token %q: expected ErrMalformedToken, got %v", tok, err)
		}
	}
}

func TestTokenFile_RoundTrip(t *testing.T) {
	f := NewTokenFile(filepath.Join(t.TempDir(), "nested", "token"))

	if _, err := f.Load(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken before save, got %v", err)
	}
	if err := f.Save("abc"); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(f.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", perm)
	}

	got, err := f.Load()
	if err != nil || got != "abc" {
		t.Fatalf("expected abc, got %q (%v)", got, err)
	}

	if err := f.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := f.Remove(); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if _, err := f.Load(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken after remove, got %v", err)
	}
}
