package auth

import (
	"testing"
	"time"
)

func TestCreateAndVerifyToken(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, issued, err := CreateToken("user-1", "a@example.com", map[string]string{"role": "viewer"}, cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	sess, err := VerifyToken(tok, cfg)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if sess.Subject != "user-1" {
		t.Fatalf("expected user-1, got %q", sess.Subject)
	}
	if sess.Email != "a@example.com" || sess.Claim("role") != "viewer" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.TokenID == "" || sess.TokenID != issued.TokenID {
		t.Fatalf("expected token id %q, got %q", issued.TokenID, sess.TokenID)
	}
	if !sess.ExpiresAt.After(time.Now()) {
		t.Fatalf("expected future expiry, got %v", sess.ExpiresAt)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, _, err := CreateToken("user-1", "", nil, cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	_, err = VerifyToken(tok, TokenConfig{Secret: "wrong", Expiry: time.Hour, Issuer: "test"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestVerifyToken_WrongIssuer(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, _, err := CreateToken("user-1", "", nil, cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	_, err = VerifyToken(tok, TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "other"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestCreateToken_InvalidExpiry(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: -time.Second, Issuer: "test"}
	_, _, err := CreateToken("user-1", "", nil, cfg)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestVerifyToken_Garbage(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	if _, err := VerifyToken("not-a-token", cfg); err == nil {
		t.Fatalf("expected error")
	}
}
