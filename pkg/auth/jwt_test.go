package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	token, err := m.GenerateToken(42, "CUSTOMER")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != 42 || claims.Role != "CUSTOMER" || claims.Subject != "42" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	token, _ := m.GenerateToken(1, "ADMIN")

	if _, err := NewTokenManager("other", time.Hour).ValidateToken(token); err == nil {
		t.Error("token signed with another secret accepted")
	}

	expired, _ := NewTokenManager("secret", -time.Minute).GenerateToken(1, "ADMIN")
	if _, err := m.ValidateToken(expired); err == nil {
		t.Error("expired token accepted")
	}

	anonymous, _ := m.GenerateToken(0, "ADMIN")
	if _, err := m.ValidateToken(anonymous); err == nil {
		t.Error("token without a user id accepted")
	}

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, UserClaims{UserID: 1}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := m.ValidateToken(none); err == nil {
		t.Error("unsigned token accepted")
	}

	if _, err := m.ValidateToken("garbage"); err == nil {
		t.Error("garbage accepted")
	}
}
