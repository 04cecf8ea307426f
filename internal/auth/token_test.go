package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	claims := Claims{
		Sub:  "usr_1",
		Name: "Priya",
		Role: "user",
		Ver:  "approved",
		JTI:  "jti_1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	}

	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	parsed, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if parsed.Sub != claims.Sub || parsed.Role != claims.Role || parsed.Ver != claims.Ver || parsed.JTI != claims.JTI {
		t.Fatalf("claims mismatch: %+v", parsed)
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueToken(secret, Claims{Sub: "usr_1", JTI: "jti_1", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := ParseToken([]byte("other-secret"), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := ParseToken(secret, token+"x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered signature, got %v", err)
	}
	if _, err := ParseToken(secret, "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for malformed token, got %v", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueToken(secret, Claims{Sub: "usr_1", JTI: "jti_1", Exp: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := ParseToken(secret, token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}
