package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestBearerTokenFromStringSuccess(t *testing.T) {
	token, err := bearerTokenFromString("Bearer header.payload.signature")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(token) != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", string(token))
	}
}

func TestBearerTokenFromStringMissing(t *testing.T) {
	if _, err := bearerTokenFromString("   "); err == nil || err.Error() != "missing authorization header" {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenFromStringManyPeriods(t *testing.T) {
	header := "Bearer " + strings.Repeat(".", 1000)
	if _, err := bearerTokenFromString(header); err == nil || err.Error() != "bad auth header" {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func hs256Auth(secret []byte) *Auth {
	return &Auth{
		Audience:    "api://board",
		Issuer:      "https://issuer/",
		LocalMode:   true,
		LocalSecret: secret,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestIdentityFromBearerHS256(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub":   "user-123",
		"name":  "Alice Johnson",
		"email": "alice@example.com",
		"aud":   "api://board",
		"iss":   "https://issuer/",
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
		"nbf":   time.Now().Add(-time.Minute).Unix(),
		"iat":   time.Now().Add(-time.Minute).Unix(),
	})

	identity, err := hs256Auth(secret).IdentityFromBearer([]byte(signed))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if identity.ID != "user-123" {
		t.Fatalf("unexpected user id: %s", identity.ID)
	}
	if identity.Name != "Alice Johnson" || identity.Email != "alice@example.com" {
		t.Fatalf("display claims not carried: %#v", identity)
	}
	if identity.Avatar != "AJ" {
		t.Fatalf("expected initials fallback avatar, got %q", identity.Avatar)
	}
}

func TestIdentityFromBearerExpired(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(-5 * time.Minute).Unix(),
	})
	if _, err := hs256Auth(secret).IdentityFromBearer([]byte(signed)); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestIdentityFromBearerMissingSub(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"aud": "api://board",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})
	if _, err := hs256Auth(secret).IdentityFromBearer([]byte(signed)); err == nil {
		t.Fatal("expected token without sub to be rejected")
	}
}

func TestInitials(t *testing.T) {
	cases := map[string]string{
		"Alice Johnson":    "AJ",
		"bob":              "B",
		"":                 "",
		"mary jane watson": "MJ",
	}
	for name, want := range cases {
		if got := initials(name); got != want {
			t.Fatalf("initials(%q) = %q, want %q", name, got, want)
		}
	}
}
