package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a JWT and gives you back the claims if it's legit.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// VerifyOptions captures common expectations used by verifiers.
type VerifyOptions struct {
	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Leeway allows small clock skew when validating exp/nbf.
	Leeway time.Duration

	// Now overrides the clock, tests only.
	Now func() time.Time
}

var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrAlgMismatch  = errors.New("jwtx: algorithm mismatch")
	ErrInvalidSig   = errors.New("jwtx: invalid signature")
	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)

func (h *HS256) now() time.Time {
	if h.opts.Now != nil {
		return h.opts.Now().UTC()
	}
	return time.Now().UTC()
}

// Verify checks the signature first and the time window second. Every
// failure, including a panic inside the parser, is reported as an error.
func (h *HS256) Verify(tokenStr string) (claims Claims, err error) {
	defer func() {
		if r := recover(); r != nil {
			claims, err = Claims{}, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	if tokenStr == "" {
		return Claims{}, ErrMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	var parsed Claims
	_, err = parser.ParseWithClaims(tokenStr, &parsed, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrAlgMismatch
		}
		return h.secret, nil
	})
	if err != nil {
		return Claims{}, mapParseError(err)
	}

	if err := parsed.ValidateIssuer(h.opts.Issuer); err != nil {
		return Claims{}, err
	}
	if parsed.Subject == "" {
		return Claims{}, ErrInvalidClaim
	}
	if err := parsed.ValidateExpiryAt(h.now().Add(-h.opts.Leeway)); err != nil {
		return Claims{}, err
	}

	return parsed, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrAlgMismatch):
		return ErrAlgMismatch
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSig
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// UnverifiedSubject decodes the "sub" claim without checking the signature.
// It exists only to enrich security logs for rejected tokens and must never
// be used for an access decision.
func UnverifiedSubject(tokenStr string) string {
	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &c); err != nil {
		return ""
	}
	return c.Subject
}
