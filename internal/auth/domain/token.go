package domain

import "time"

// TokenPair is what login and refresh hand back: the short-lived access token
// (JWT) and the opaque refresh token.
type TokenPair struct {
	AccessToken  string        `json:"token"`
	RefreshToken string        `json:"refreshToken"`
	ExpiresIn    time.Duration `json:"-"`
	SessionID    string        `json:"sessionId,omitempty"`
}

// RefreshToken models the stored refresh token record in the DB.
type RefreshToken struct {
	ID         string
	UserID     string
	TokenHash  string // deterministic fingerprint (base64url SHA-256)
	SessionID  string // persists across rotations
	RememberMe bool
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// OneTimeToken is a single-use password reset or email verification token.
type OneTimeToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the token is unusable at now.
func (t OneTimeToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }
