package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/audit"
	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/internal/auth/session"
	"github.com/aussiebroadwan/erp/internal/auth/store"
	"github.com/aussiebroadwan/erp/pkg/cryptox"
	"github.com/aussiebroadwan/erp/pkg/idx"
	"github.com/aussiebroadwan/erp/pkg/slogx"
)

// Default lifetimes of one-time tokens.
const (
	DefaultPasswordResetTTL     = time.Hour
	DefaultEmailVerificationTTL = 24 * time.Hour
)

// AuthService implements the credential flows: registration, login, logout,
// refresh, password recovery and email verification.
//
// Every method returns either a *domain.Error, safe to show the caller, or
// an internal error that must be reported as a generic 500.
type AuthService struct {
	Store    store.Store
	Tokens   *TokenService
	Sessions session.Store
	Policy   PasswordPolicy
	Notifier Notifier
	Audit    audit.Sink

	BcryptCost      int
	ResetTTL        time.Duration
	VerificationTTL time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// LoginResult is the body of a successful login.
type LoginResult struct {
	User         domain.Profile `json:"user"`
	Token        string         `json:"token"`
	RefreshToken string         `json:"refreshToken"`
	ExpiresIn    int64          `json:"expiresIn"`
	SessionID    string         `json:"sessionId"`
}

type RegisterInput struct {
	Email      string
	Password   string
	FirstName  string
	LastName   string
	Department domain.Department
	CompanyID  string
}

type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
	Device     session.Device
}

type LogoutInput struct {
	RefreshToken string
	SessionID    string
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Register creates an employee account with the default permissions of its
// department and sends an email verification token.
//
// Errors: ErrValidation, ErrWeakPassword, ErrEmailTaken.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (domain.User, error) {
	email := domain.NormalizeEmail(in.Email)
	if email == "" || !in.Department.Valid() {
		return domain.User{}, domain.ErrValidation
	}
	if err := s.Policy.check(in.Password); err != nil {
		return domain.User{}, err
	}
	hash, err := cryptox.HashPassword(in.Password, s.BcryptCost)
	if err != nil {
		return domain.User{}, err
	}

	now := s.now()
	u := domain.User{
		ID:           idx.NewAt(now).String(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         domain.RoleEmployee,
		Department:   in.Department,
		CompanyID:    strings.TrimSpace(in.CompanyID),
		Permissions:  domain.DefaultPermissions(domain.RoleEmployee, in.Department),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Users().CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, domain.ErrEmailTaken
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	record(ctx, s.Audit, audit.Registered, u.ID, "")

	if err := s.sendVerification(ctx, u); err != nil {
		// The account exists; the user can ask for another token.
		slogx.FromContext(ctx).Warn("failed to issue verification token",
			slog.String("user_id", u.ID), slog.Any("error", err))
	}
	return u, nil
}

// Login verifies credentials and opens a session. Unknown emails, wrong
// passwords and unavailable accounts all fail with ErrInvalidCredentials;
// only the audit log records which one it was.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := domain.NormalizeEmail(in.Email)

	u, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load user: %w", err)
		}
		// Burn the same bcrypt time as a real comparison.
		_ = cryptox.VerifyPassword(in.Password, "")
		record(ctx, s.Audit, audit.LoginFailed, "", "unknown_email")
		return nil, domain.ErrInvalidCredentials
	}

	if err := cryptox.VerifyPassword(in.Password, u.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			slogx.FromContext(ctx).Error("stored password hash unusable",
				slog.String("user_id", u.ID), slog.Any("error", err))
		}
		record(ctx, s.Audit, audit.LoginFailed, u.ID, "invalid_password")
		return nil, domain.ErrInvalidCredentials
	}
	if !u.CanAuthenticate() {
		record(ctx, s.Audit, audit.LoginFailed, u.ID, "account_inactive")
		return nil, domain.ErrInvalidCredentials
	}

	// Upgrade hashes made under an older BCRYPT_COST while the plaintext is
	// at hand. Failure only costs the upgrade.
	var rehash string
	if cryptox.NeedsRehash(u.PasswordHash, s.BcryptCost) {
		if h, err := cryptox.HashPassword(in.Password, s.BcryptCost); err == nil {
			rehash = h
		} else {
			slogx.FromContext(ctx).Warn("password rehash failed",
				slog.String("user_id", u.ID), slog.Any("error", err))
		}
	}

	now := s.now()
	sess, err := session.New(u, in.Device, in.RememberMe, now, s.Tokens.SessionTTL(in.RememberMe))
	if err != nil {
		return nil, err
	}
	if err := s.Sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	var refresh string
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		raw, _, err := s.Tokens.IssueRefreshToken(ctx, tx, u.ID, sess.ID, in.RememberMe)
		if err != nil {
			return err
		}
		refresh = raw
		if rehash != "" {
			if err := tx.Users().UpdatePasswordHash(ctx, u.ID, rehash); err != nil {
				return fmt.Errorf("rehash password: %w", err)
			}
		}
		return tx.Users().TouchLastLogin(ctx, u.ID, now)
	})
	if err != nil {
		_ = s.Sessions.Delete(ctx, sess.ID)
		return nil, err
	}

	access, ttl, err := s.Tokens.IssueAccessToken(u, sess.ID, in.RememberMe)
	if err != nil {
		_ = s.Sessions.Delete(ctx, sess.ID)
		_ = s.Tokens.RevokeRefreshToken(ctx, refresh)
		return nil, err
	}
	u.LastLoginAt = &now

	record(ctx, s.Audit, audit.LoginSucceeded, u.ID, "", slog.Bool("remember_me", in.RememberMe))
	return &LoginResult{
		User:         u.Profile(),
		Token:        access,
		RefreshToken: refresh,
		ExpiresIn:    int64(ttl / time.Second),
		SessionID:    sess.ID,
	}, nil
}

// Logout revokes the given refresh token and session, and the caller's own
// session when p is set. It is idempotent: unknown values are ignored.
func (s *AuthService) Logout(ctx context.Context, in LogoutInput, p *domain.Principal) error {
	if err := s.Tokens.RevokeRefreshToken(ctx, in.RefreshToken); err != nil {
		return err
	}

	var userID string
	if p != nil {
		userID = p.UserID
		if p.SessionID != "" && p.SessionID != in.SessionID {
			if err := s.revokeSession(ctx, p.UserID, p.SessionID); err != nil {
				return err
			}
		}
	}
	if in.SessionID != "" {
		if err := s.revokeSession(ctx, userID, in.SessionID); err != nil {
			return err
		}
	}

	record(ctx, s.Audit, audit.Logout, userID, "")
	return nil
}

// revokeSession deletes a session and the refresh tokens bound to it.
// userID may be empty when the caller is anonymous; it is then taken from
// the stored session.
func (s *AuthService) revokeSession(ctx context.Context, userID, sid string) error {
	sess, err := s.Sessions.Get(ctx, sid)
	switch {
	case errors.Is(err, session.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load session: %w", err)
	default:
		if userID != "" && sess.UserID != userID {
			// Not the caller's session; treat as unknown.
			return nil
		}
		userID = sess.UserID
	}

	if userID != "" {
		if err := s.Store.RefreshTokens().DeleteSessionRefreshTokens(ctx, userID, sid); err != nil {
			return fmt.Errorf("delete session refresh tokens: %w", err)
		}
	}
	if err := s.Sessions.Delete(ctx, sid); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Refresh rotates a refresh token and brings the session's cached
// attributes up to date with the stored user.
//
// Errors: ErrInvalidOrExpiredToken.
func (s *AuthService) Refresh(ctx context.Context, raw string, dev session.Device) (*domain.TokenPair, error) {
	rot, err := s.Tokens.RotateRefreshToken(ctx, raw)
	if err != nil {
		if domain.KindOf(err) == domain.KindAuthentication {
			record(ctx, s.Audit, audit.TokenRefreshFailed, "", "invalid_or_expired")
		}
		return nil, err
	}

	sid := rot.Pair.SessionID
	sess, err := s.Sessions.Get(ctx, sid)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			slogx.FromContext(ctx).Warn("failed to load session on refresh", slog.Any("error", err))
		}
		sess = session.Session{
			ID:         sid,
			IP:         dev.IP,
			UserAgent:  dev.UserAgent,
			RememberMe: rot.RememberMe,
			CreatedAt:  s.now(),
		}
	}
	sess.Apply(rot.User)
	sess.ExpiresAt = rot.ExpiresAt
	if err := s.Sessions.Save(ctx, sess); err != nil {
		slogx.FromContext(ctx).Warn("failed to save session on refresh", slog.Any("error", err))
	}

	record(ctx, s.Audit, audit.TokenRefreshed, rot.User.ID, "")
	return &rot.Pair, nil
}

// Me returns the stored profile of the caller.
func (s *AuthService) Me(ctx context.Context, p domain.Principal) (domain.User, error) {
	u, err := s.Store.Users().GetUserByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}
	return u, nil
}

// ListSessions returns the caller's live sessions, newest first.
func (s *AuthService) ListSessions(ctx context.Context, p domain.Principal) ([]session.Session, error) {
	return s.Sessions.ListUser(ctx, p.UserID)
}

// RevokeSession ends one of the caller's sessions.
//
// Errors: ErrSessionNotFound, also for sessions of other users.
func (s *AuthService) RevokeSession(ctx context.Context, p domain.Principal, sid string) error {
	sess, err := s.Sessions.Get(ctx, sid)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return domain.ErrSessionNotFound
		}
		return err
	}
	if sess.UserID != p.UserID {
		return domain.ErrSessionNotFound
	}
	if err := s.revokeSession(ctx, p.UserID, sid); err != nil {
		return err
	}
	record(ctx, s.Audit, audit.SessionRevoked, p.UserID, "")
	return nil
}

// revokeUser ends every session and refresh token of a user. Refresh tokens
// go first so a session cannot be recreated by a concurrent refresh.
func revokeUser(ctx context.Context, st store.Store, sessions session.Store, userID string) error {
	if err := st.RefreshTokens().DeleteUserRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("delete refresh tokens: %w", err)
	}
	if err := sessions.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

func record(ctx context.Context, sink audit.Sink, k audit.Kind, subjectID, reason string, attrs ...slog.Attr) {
	if sink == nil {
		return
	}
	e := audit.New(ctx, k)
	e.SubjectID = subjectID
	e.Reason = reason
	e.Attrs = attrs
	sink.Record(ctx, e)
}

func weakPassword(violations []string) error {
	return domain.ErrWeakPassword.WithDetails(map[string]any{"errors": violations})
}
