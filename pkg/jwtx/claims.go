package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTL constants. Access tokens are deliberately shorter than
// refresh tokens; both can be overridden from configuration.
const (
	// DefaultAccessTokenTTL is the lifetime of a normal access token.
	DefaultAccessTokenTTL = 24 * time.Hour

	// DefaultRememberMeAccessTTL is used when the subject asked to be remembered.
	DefaultRememberMeAccessTTL = 7 * 24 * time.Hour

	// DefaultRefreshTokenTTL is the lifetime of a refresh token.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	// DefaultRememberMeRefreshTTL is the refresh lifetime for remembered logins.
	DefaultRememberMeRefreshTTL = 30 * 24 * time.Hour
)

// Claims are the access-token claims shared with every ERP module. Fields are
// additive only so older tokens keep decoding.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID, mirrors the server-side session record.
	SID string `json:"sid,omitempty"`

	Email      string `json:"email"`
	Role       string `json:"role"`
	Department string `json:"department"`
	CompanyID  string `json:"company_id,omitempty"`

	// Capability strings such as "financial:read"; "*" grants everything.
	Permissions []string `json:"permissions,omitempty"`
}

// Subject is the minimal view of a subject needed to mint claims.
type Subject struct {
	ID          string
	Email       string
	Role        string
	Department  string
	CompanyID   string
	Permissions []string
}

// NewAccessClaims builds minimally-correct claims for sub.
func NewAccessClaims(sub Subject, sid, issuer string, ttl time.Duration, now time.Time) Claims {
	now = now.UTC()
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sub.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:         sid,
		Email:       sub.Email,
		Role:        sub.Role,
		Department:  sub.Department,
		CompanyID:   sub.CompanyID,
		Permissions: append([]string(nil), sub.Permissions...),
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateExpiryAt ensures the token hasn't expired (exp) and isn't used
// before nbf, relative to now.
func (c *Claims) ValidateExpiryAt(now time.Time) error {
	if c.ExpiresAt == nil {
		return ErrInvalidClaim
	}
	if !now.Before(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}
	return nil
}

// ValidateExpiry is ValidateExpiryAt against the wall clock.
func (c *Claims) ValidateExpiry() error {
	return c.ValidateExpiryAt(time.Now().UTC())
}
