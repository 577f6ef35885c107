package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errUnauthenticated = errors.New("missing or invalid candidate token")

// CandidateClaims identify the candidate behind a websocket connection. Subject is the candidate id.
type CandidateClaims struct {
	jwt.RegisteredClaims
}

// Authenticator resolves the candidate id of a request. With no secret configured the id is
// taken from the candidateId query parameter.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) Authenticator {
	return Authenticator{secret: []byte(secret)}
}

func (a Authenticator) CandidateID(r *http.Request) (string, error) {
	if len(a.secret) == 0 {
		id := r.URL.Query().Get("candidateId")
		if id == "" {
			return "", errUnauthenticated
		}
		return id, nil
	}

	raw := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimPrefix(h, "Bearer ")
	}
	if raw == "" {
		return "", errUnauthenticated
	}

	token, err := jwt.ParseWithClaims(raw, &CandidateClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUnauthenticated, err)
	}
	claims, ok := token.Claims.(*CandidateClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", errUnauthenticated
	}
	return claims.Subject, nil
}
