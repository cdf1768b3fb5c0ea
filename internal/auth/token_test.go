package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var secret = []byte("test-secret")

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(secret, Claims{
		Sub:  "user_1",
		Name: "Riley",
		Role: "moderator",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Sub != "user_1" || claims.Name != "Riley" || claims.Role != "moderator" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	token, err := IssueToken(secret, Claims{Sub: "user_1", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	payload, _, _ := strings.Cut(token, ".")
	forged := payload + ".forged-signature"
	if _, err := ParseToken(secret, forged); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}

	if _, err := ParseToken([]byte("other-secret"), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := IssueToken(secret, Claims{Sub: "user_1", Exp: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := ParseToken(secret, token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "no-dot", "a.b.c", "!!.!!"} {
		if _, err := ParseToken(secret, token); err == nil {
			t.Errorf("expected error for token %q", token)
		}
	}
}
