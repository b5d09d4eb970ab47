package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable, and so a Tx-scoped store cannot start a nested transaction.
type Store interface {
	Users() Users
	RefreshTokens() RefreshTokens
	PasswordResetTokens() OneTimeTokens
	EmailVerificationTokens() OneTimeTokens

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// Use it for multi-step operations that must be atomic (e.g., refresh rotation).
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// Users only ever sees rows where deleted_at IS NULL. A soft-deleted user is
// reported as ErrNotFound by every method.
type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail expects an already normalized address.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// IsEmpty reports whether no user was ever created, tombstones included.
	IsEmpty(ctx context.Context) (bool, error)

	// ListUsersByCompany returns users ordered by creation date.
	ListUsersByCompany(ctx context.Context, companyID string) ([]domain.User, error)

	// CreateUser inserts a new user (id is provided by app via ULID).
	// Returns ErrAlreadyExists when the email is taken.
	CreateUser(ctx context.Context, u domain.User) error

	// UpdatePasswordHash sets the password_hash (bcrypt) and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, userID, hash string) error

	// UpdateAccess rewrites role, department and permissions.
	UpdateAccess(ctx context.Context, userID string, role domain.Role, dept domain.Department, perms []string) error

	SetActive(ctx context.Context, userID string, active bool) error
	MarkEmailVerified(ctx context.Context, userID string) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error

	// SoftDeleteUser sets the tombstone. The row stays for audit.
	SoftDeleteUser(ctx context.Context, userID string, at time.Time) error
}

type RefreshTokens interface {
	// CreateRefreshToken stores a new refresh token record.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// ClaimRefreshToken deletes the record with the given hash and returns
	// it. Of several concurrent claims for one hash exactly one succeeds;
	// the rest get ErrNotFound.
	ClaimRefreshToken(ctx context.Context, hash string) (domain.RefreshToken, error)

	// DeleteRefreshToken is idempotent.
	DeleteRefreshToken(ctx context.Context, hash string) error

	// DeleteUserRefreshTokens revokes every refresh token of a user.
	DeleteUserRefreshTokens(ctx context.Context, userID string) error

	// DeleteSessionRefreshTokens revokes the refresh tokens of one session.
	DeleteSessionRefreshTokens(ctx context.Context, userID, sessionID string) error

	// DeleteExpiredRefreshTokens is housekeeping; returns rows removed.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// OneTimeTokens backs both password reset and email verification tokens.
type OneTimeTokens interface {
	CreateToken(ctx context.Context, t domain.OneTimeToken) error

	// ConsumeToken deletes the token with the given hash and returns it.
	// Exactly one concurrent consumer wins; the rest get ErrNotFound.
	ConsumeToken(ctx context.Context, hash string) (domain.OneTimeToken, error)

	DeleteUserTokens(ctx context.Context, userID string) error

	// DeleteExpiredTokens is housekeeping; returns rows removed.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}
