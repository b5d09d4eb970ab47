// Package session keeps the server-side session records that mirror a
// user's authorization state. Sessions expire on their own; deleting one is
// immediate and idempotent.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/pkg/cryptox"
)

var ErrNotFound = errors.New("session: not found")

// Session is the cached authorization state of one login.
type Session struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	Email       string            `json:"email"`
	Role        domain.Role       `json:"role"`
	Department  domain.Department `json:"department"`
	CompanyID   string            `json:"companyId,omitempty"`
	Permissions []string          `json:"permissions"`
	IP          string            `json:"ip,omitempty"`
	UserAgent   string            `json:"userAgent,omitempty"`
	RememberMe  bool              `json:"rememberMe"`
	CreatedAt   time.Time         `json:"createdAt"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

// Device is the client metadata recorded with a session.
type Device struct {
	IP        string
	UserAgent string
}

// New builds a session for u with a fresh 256-bit id.
func New(u domain.User, dev Device, rememberMe bool, now time.Time, ttl time.Duration) (Session, error) {
	id, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return Session{}, err
	}
	s := Session{
		ID:         id,
		IP:         dev.IP,
		UserAgent:  dev.UserAgent,
		RememberMe: rememberMe,
		CreatedAt:  now.UTC(),
		ExpiresAt:  now.UTC().Add(ttl),
	}
	s.Apply(u)
	return s, nil
}

// Apply copies u's current authorization attributes into s.
func (s *Session) Apply(u domain.User) {
	s.UserID = u.ID
	s.Email = u.Email
	s.Role = u.Role
	s.Department = u.Department
	s.CompanyID = u.CompanyID
	s.Permissions = append([]string(nil), u.Permissions...)
}

// Store persists sessions. Implementations must be safe for concurrent use.
type Store interface {
	// Save creates or replaces s. It expires at s.ExpiresAt.
	Save(ctx context.Context, s Session) error

	// Get returns ErrNotFound for unknown or expired ids.
	Get(ctx context.Context, id string) (Session, error)

	// Delete is idempotent.
	Delete(ctx context.Context, id string) error

	// DeleteUser removes every session of a user.
	DeleteUser(ctx context.Context, userID string) error

	// ListUser returns the live sessions of a user, newest first.
	ListUser(ctx context.Context, userID string) ([]Session, error)

	Ping(ctx context.Context) error
}
