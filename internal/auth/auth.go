// Package auth checks bearer tokens on the status API.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// ExtractBearerToken returns the token from an `Authorization: Bearer` header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// Check compares the presented token with the configured one in constant
// time. An empty configured token never matches.
func Check(presented, configured string) error {
	if presented == "" {
		return ErrMissingToken
	}
	if configured == "" || len(presented) != len(configured) {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Authenticate extracts and checks the request's bearer token.
func Authenticate(r *http.Request, configured string) error {
	token, err := ExtractBearerToken(r)
	if err != nil {
		return err
	}
	return Check(token, configured)
}
