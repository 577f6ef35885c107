package http

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, subject string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(method, CandidateClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expires),
	}})
	raw, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func TestAuthenticatorQueryFallback(t *testing.T) {
	auth := NewAuthenticator("")
	id, err := auth.CandidateID(httptest.NewRequest("GET", "/ws?candidateId=cand-1", nil))
	if err != nil || id != "cand-1" {
		t.Fatalf("expected cand-1, got %q (%v)", id, err)
	}
	if _, err := auth.CandidateID(httptest.NewRequest("GET", "/ws", nil)); !errors.Is(err, errUnauthenticated) {
		t.Fatalf("expected errUnauthenticated, got %v", err)
	}
}

func TestAuthenticatorJWT(t *testing.T) {
	secret := "s3cret"
	auth := NewAuthenticator(secret)
	valid := sign(t, jwt.SigningMethodHS256, []byte(secret), "cand-7", time.Now().Add(time.Hour))

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+valid)
	id, err := auth.CandidateID(req)
	if err != nil || id != "cand-7" {
		t.Fatalf("header token: got %q (%v)", id, err)
	}

	id, err = auth.CandidateID(httptest.NewRequest("GET", "/ws?token="+valid, nil))
	if err != nil || id != "cand-7" {
		t.Fatalf("query token: got %q (%v)", id, err)
	}

	// candidateId is ignored once a secret is configured.
	if _, err := auth.CandidateID(httptest.NewRequest("GET", "/ws?candidateId=cand-7", nil)); !errors.Is(err, errUnauthenticated) {
		t.Fatalf("expected errUnauthenticated, got %v", err)
	}
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator("s3cret")
	cases := map[string]string{
		"wrong secret": sign(t, jwt.SigningMethodHS256, []byte("other"), "cand-1", time.Now().Add(time.Hour)),
		"expired":      sign(t, jwt.SigningMethodHS256, []byte("s3cret"), "cand-1", time.Now().Add(-time.Minute)),
		"no subject":   sign(t, jwt.SigningMethodHS256, []byte("s3cret"), "", time.Now().Add(time.Hour)),
		"none alg":     sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, "cand-1", time.Now().Add(time.Hour)),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := auth.CandidateID(httptest.NewRequest("GET", "/ws?token="+raw, nil))
			if !errors.Is(err, errUnauthenticated) {
				t.Fatalf("expected errUnauthenticated, got %v", err)
			}
		})
	}
}
