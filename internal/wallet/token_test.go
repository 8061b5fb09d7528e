package wallet

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	manager := NewTokenManager("secret")
	token, claims, err := manager.Issue("alice", "active")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if claims.Actor != "alice" || claims.Permission != "active" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	verified, err := manager.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Actor != "alice" || verified.ExpiresAt != claims.ExpiresAt {
		t.Fatalf("unexpected verified claims: %+v", verified)
	}
}

func TestTokenExpiryWindow(t *testing.T) {
	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	issuer := NewTokenManager("secret", WithClock(func() time.Time { return issuedAt }))
	token, _, err := issuer.Issue("alice", "active")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	almostExpired := NewTokenManager("secret", WithClock(func() time.Time {
		return issuedAt.Add(23*time.Hour + 59*time.Minute)
	}))
	if _, err := almostExpired.Verify(token); err != nil {
		t.Fatalf("token rejected inside its lifetime: %v", err)
	}

	justExpired := NewTokenManager("secret", WithClock(func() time.Time {
		return issuedAt.Add(24*time.Hour + time.Minute)
	}))
	if _, err := justExpired.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenTamperingRejected(t *testing.T) {
	manager := NewTokenManager("secret")
	token, _, err := manager.Issue("alice", "active")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := manager.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered payload, got %v", err)
	}

	otherSecret := NewTokenManager("different")
	if _, err := otherSecret.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken under different secret, got %v", err)
	}

	if _, err := manager.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for malformed token, got %v", err)
	}
}
