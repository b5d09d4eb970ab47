package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HMAC secret accepted, in bytes.
const MinSecretLength = 32

// Signer is anything that can sign access-token claims.
type Signer interface {
	Alg() string
	Sign(Claims) (string, error)
}

// ErrWeakSecret is returned when the HMAC secret is too short.
var ErrWeakSecret = errors.New("jwtx: signing secret must be at least 32 bytes")

// HS256 signs and verifies tokens with a single server-held secret.
type HS256 struct {
	secret []byte
	opts   VerifyOptions
}

// NewHS256 creates an HS256 signer/verifier. The secret is copied.
func NewHS256(secret []byte, opts VerifyOptions) (*HS256, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &HS256{
		secret: append([]byte(nil), secret...),
		opts:   opts,
	}, nil
}

func (h *HS256) Alg() string { return jwt.SigningMethodHS256.Alg() }

// Sign turns claims into a compact signed JWT.
func (h *HS256) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(h.secret)
}
