package usertoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "https://securetoken.example.com/wallpapers-app"
	testAudience = "wallpapers-app"
)

func TestNewVerifierRequiresConfig(t *testing.T) {
	if _, err := NewVerifier(context.Background(), Config{Issuer: testIssuer, Audience: testAudience}); err == nil {
		t.Fatalf("expected missing jwks url to fail")
	}
	if _, err := NewVerifier(context.Background(), Config{JWKSURL: "http://localhost"}); err == nil {
		t.Fatalf("expected missing issuer to fail")
	}
}

func TestVerifyReturnsIdentityAndRefreshesOnUnknownKid(t *testing.T) {
	key1 := generateKey(t)
	key2 := generateKey(t)

	active := "kid-1"
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		pub := key1.PublicKey
		if active == "kid-2" {
			pub = key2.PublicKey
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK(active, pub)}})
	}))
	defer jwksServer.Close()

	ctx := context.Background()
	v, err := NewVerifier(ctx, Config{JWKSURL: jwksServer.URL, Issuer: testIssuer, Audience: testAudience})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	id, err := v.Verify(ctx, signToken(t, key1, "kid-1", "user-a", time.Now()))
	if err != nil {
		t.Fatalf("verify token1: %v", err)
	}
	if id.UID != "user-a" || id.Email != "user-a@example.com" || !id.EmailVerified {
		t.Fatalf("unexpected identity: %+v", id)
	}

	active = "kid-2"
	id, err = v.Verify(ctx, signToken(t, key2, "kid-2", "user-b", time.Now()))
	if err != nil || id.UID != "user-b" {
		t.Fatalf("verify rotated token failed: id=%+v err=%v", id, err)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	key := generateKey(t)
	other := generateKey(t)
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK("kid-1", key.PublicKey)}})
	}))
	defer jwksServer.Close()

	ctx := context.Background()
	v, err := NewVerifier(ctx, Config{JWKSURL: jwksServer.URL, Issuer: testIssuer, Audience: testAudience, Leeway: 5 * time.Second})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	cases := map[string]string{
		"empty":       "",
		"future iat":  signToken(t, key, "kid-1", "user-1", time.Now().Add(2*time.Minute)),
		"wrong key":   signToken(t, other, "kid-1", "user-1", time.Now()),
		"missing sub": signToken(t, key, "kid-1", "", time.Now()),
		"not a jwt":   "abc.def",
	}
	for name, token := range cases {
		if _, err := v.Verify(ctx, token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestParseCacheMaxAge(t *testing.T) {
	if got := parseCacheMaxAge("public, max-age=19800, must-revalidate"); got != 19800*time.Second {
		t.Fatalf("unexpected max-age %v", got)
	}
	if got := parseCacheMaxAge("no-cache"); got != 0 {
		t.Fatalf("expected zero, got %v", got)
	}
}

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid, subject string, issuedAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
		Email:         subject + "@example.com",
		EmailVerified: true,
	})
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func toJWK(kid string, key rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
