package httpx

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrMissingToken means no Authorization header was sent.
	ErrMissingToken = errors.New("httpx: missing bearer token")

	// ErrMalformedHeader means the header was present but not "Bearer <token>".
	ErrMalformedHeader = errors.New("httpx: malformed authorization header")
)

// BearerToken extracts the token from an RFC 6750 Authorization header.
func BearerToken(r *http.Request) (string, error) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", ErrMissingToken
	}
	scheme, raw, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedHeader
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, " \t") {
		return "", ErrMalformedHeader
	}
	return raw, nil
}

// SetBearerChallenge sets the WWW-Authenticate header for a 401.
func SetBearerChallenge(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
}
