package bridge

import (
	"testing"

	"chatcore/internal/config"
)

func newTokenService(t *testing.T) *TokenService {
	t.Helper()
	svc, err := NewTokenService(&config.Config{
		JWTSecret:    "test-jwt-secret",
		BridgeSecret: "pairing-secret",
		JWTExpiryMin: 5,
	})
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}
	return svc
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTokenService(t)

	token, err := svc.Issue("pairing-secret")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}
	claims, err := svc.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "bridge" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if err := svc.Verify(token); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	svc := newTokenService(t)
	if _, err := svc.Issue("not-the-secret"); err == nil {
		t.Fatal("wrong pairing secret accepted")
	}
}

func TestTokenRejectsGarbage(t *testing.T) {
	svc := newTokenService(t)
	if err := svc.Verify(""); err == nil {
		t.Fatal("empty token accepted")
	}
	if err := svc.Verify("not.a.jwt"); err == nil {
		t.Fatal("malformed token accepted")
	}

	// A token signed with a different key must fail.
	other, err := NewTokenService(&config.Config{
		JWTSecret:    "different-key",
		BridgeSecret: "pairing-secret",
	})
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}
	token, err := other.Issue("pairing-secret")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := svc.Verify(token); err == nil {
		t.Fatal("token from foreign key accepted")
	}
}
