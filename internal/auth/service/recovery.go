package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/audit"
	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/internal/auth/session"
	"github.com/aussiebroadwan/erp/internal/auth/store"
	"github.com/aussiebroadwan/erp/pkg/cryptox"
	"github.com/aussiebroadwan/erp/pkg/idx"
	"github.com/aussiebroadwan/erp/pkg/slogx"
)

var errOneTimeExpired = errors.New("one-time token expired")

// oneTimeRepo selects the reset or verification table of a store, so the
// same code runs against the root store and a transaction.
type oneTimeRepo func(store.Store) store.OneTimeTokens

func resetTokens(st store.Store) store.OneTimeTokens        { return st.PasswordResetTokens() }
func verificationTokens(st store.Store) store.OneTimeTokens { return st.EmailVerificationTokens() }

func (s *AuthService) resetTTL() time.Duration {
	if s.ResetTTL > 0 {
		return s.ResetTTL
	}
	return DefaultPasswordResetTTL
}

func (s *AuthService) verificationTTL() time.Duration {
	if s.VerificationTTL > 0 {
		return s.VerificationTTL
	}
	return DefaultEmailVerificationTTL
}

// issueOneTime replaces any outstanding token of the user with a new one.
func (s *AuthService) issueOneTime(ctx context.Context, repo oneTimeRepo, userID string, ttl time.Duration) (string, time.Time, error) {
	raw, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now()
	t := domain.OneTimeToken{
		ID:        idx.New().String(),
		UserID:    userID,
		TokenHash: cryptox.FingerprintToken(raw),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := repo(tx).DeleteUserTokens(ctx, userID); err != nil {
			return err
		}
		return repo(tx).CreateToken(ctx, t)
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue one-time token: %w", err)
	}
	return raw, t.ExpiresAt, nil
}

// consumeOneTime runs fn with the owner of raw inside the transaction that
// consumes the token. Missing, expired or orphaned tokens fail with
// ErrInvalidOrExpiredToken.
func (s *AuthService) consumeOneTime(ctx context.Context, repo oneTimeRepo, raw string, fn func(tx store.Tx, u domain.User) error) (domain.User, error) {
	if raw == "" {
		return domain.User{}, domain.ErrInvalidOrExpiredToken
	}
	hash := cryptox.FingerprintToken(raw)

	var owner domain.User
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		t, err := repo(tx).ConsumeToken(ctx, hash)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrInvalidOrExpiredToken
			}
			return err
		}
		if t.Expired(s.now()) {
			return errOneTimeExpired
		}
		u, err := tx.Users().GetUserByID(ctx, t.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrInvalidOrExpiredToken
			}
			return err
		}
		if err := fn(tx, u); err != nil {
			return err
		}
		owner = u
		return nil
	})
	if errors.Is(err, errOneTimeExpired) {
		// The transaction rolled back; expired tokens are still single use.
		if _, cerr := repo(s.Store).ConsumeToken(ctx, hash); cerr != nil && !errors.Is(cerr, store.ErrNotFound) {
			slogx.FromContext(ctx).Warn("failed to delete expired token", slog.Any("error", cerr))
		}
		return domain.User{}, domain.ErrInvalidOrExpiredToken
	}
	return owner, err
}

// ForgotPassword issues a reset token when email belongs to an active user.
// The outcome is the same whether or not the account exists.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.Store.Users().GetUserByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slogx.FromContext(ctx).Debug("password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}
	if !u.CanAuthenticate() {
		return nil
	}

	raw, exp, err := s.issueOneTime(ctx, resetTokens, u.ID, s.resetTTL())
	if err != nil {
		return err
	}
	if s.Notifier != nil {
		if err := s.Notifier.PasswordReset(ctx, u, raw, exp); err != nil {
			slogx.FromContext(ctx).Warn("failed to deliver password reset",
				slog.String("user_id", u.ID), slog.Any("error", err))
		}
	}
	record(ctx, s.Audit, audit.PasswordResetIssued, u.ID, "")
	return nil
}

// ResetPassword sets a new password using a reset token. Consuming the
// token, rewriting the hash and deleting every refresh token of the user
// happen in one transaction; all sessions are revoked afterwards.
//
// Errors: ErrWeakPassword, ErrInvalidOrExpiredToken.
func (s *AuthService) ResetPassword(ctx context.Context, token, password string) error {
	if err := s.Policy.check(password); err != nil {
		return err
	}
	hash, err := cryptox.HashPassword(password, s.BcryptCost)
	if err != nil {
		return err
	}

	u, err := s.consumeOneTime(ctx, resetTokens, token, func(tx store.Tx, u domain.User) error {
		if err := tx.Users().UpdatePasswordHash(ctx, u.ID, hash); err != nil {
			return err
		}
		return tx.RefreshTokens().DeleteUserRefreshTokens(ctx, u.ID)
	})
	if err != nil {
		if domain.KindOf(err) == domain.KindAuthentication {
			record(ctx, s.Audit, audit.PasswordResetFailed, "", "invalid_or_expired_token")
		}
		return err
	}

	if err := s.Sessions.DeleteUser(ctx, u.ID); err != nil {
		slogx.FromContext(ctx).Warn("failed to revoke sessions after reset",
			slog.String("user_id", u.ID), slog.Any("error", err))
	}
	record(ctx, s.Audit, audit.PasswordReset, u.ID, "")
	return nil
}

// ChangePassword replaces the caller's password after checking the current
// one. Every refresh token and every other session of the user is revoked;
// the caller's session gets a fresh token pair.
//
// Errors: ErrInvalidCurrentPassword, ErrPasswordReused, ErrWeakPassword,
// ErrAccountUnavailable.
func (s *AuthService) ChangePassword(ctx context.Context, p domain.Principal, current, next string) (*domain.TokenPair, error) {
	u, err := s.Store.Users().GetUserByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrAccountUnavailable
		}
		return nil, err
	}
	if err := cryptox.VerifyPassword(current, u.PasswordHash); err != nil {
		record(ctx, s.Audit, audit.PasswordChangeFailed, u.ID, "invalid_current_password")
		return nil, domain.ErrInvalidCurrentPassword
	}
	if current == next {
		return nil, domain.ErrPasswordReused
	}
	if err := s.Policy.check(next); err != nil {
		return nil, err
	}
	hash, err := cryptox.HashPassword(next, s.BcryptCost)
	if err != nil {
		return nil, err
	}

	rememberMe := false
	if p.SessionID != "" {
		if sess, err := s.Sessions.Get(ctx, p.SessionID); err == nil {
			rememberMe = sess.RememberMe
		}
	}

	var refresh string
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().UpdatePasswordHash(ctx, u.ID, hash); err != nil {
			return err
		}
		if err := tx.RefreshTokens().DeleteUserRefreshTokens(ctx, u.ID); err != nil {
			return err
		}
		if p.SessionID == "" {
			return nil
		}
		raw, _, err := s.Tokens.IssueRefreshToken(ctx, tx, u.ID, p.SessionID, rememberMe)
		refresh = raw
		return err
	})
	if err != nil {
		return nil, err
	}

	s.revokeOtherSessions(ctx, u.ID, p.SessionID)
	record(ctx, s.Audit, audit.PasswordChanged, u.ID, "")

	if p.SessionID == "" {
		return nil, nil
	}
	access, ttl, err := s.Tokens.IssueAccessToken(u, p.SessionID, rememberMe)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    ttl,
		SessionID:    p.SessionID,
	}, nil
}

func (s *AuthService) revokeOtherSessions(ctx context.Context, userID, keep string) {
	l := slogx.FromContext(ctx)
	live, err := s.Sessions.ListUser(ctx, userID)
	if err != nil {
		l.Warn("failed to list sessions", slog.String("user_id", userID), slog.Any("error", err))
		return
	}
	for _, sess := range live {
		if sess.ID == keep {
			continue
		}
		if err := s.Sessions.Delete(ctx, sess.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
			l.Warn("failed to revoke session", slog.String("user_id", userID), slog.Any("error", err))
		}
	}
}

// VerifyEmail consumes a verification token and marks the owner verified.
//
// Errors: ErrInvalidOrExpiredToken.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	u, err := s.consumeOneTime(ctx, verificationTokens, token, func(tx store.Tx, u domain.User) error {
		return tx.Users().MarkEmailVerified(ctx, u.ID)
	})
	if err != nil {
		return err
	}
	record(ctx, s.Audit, audit.EmailVerified, u.ID, "")
	return nil
}

// ResendVerification issues a new verification token for an active,
// unverified account. Like ForgotPassword it reveals nothing about email.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	u, err := s.Store.Users().GetUserByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}
	if !u.CanAuthenticate() || u.EmailVerified {
		return nil
	}
	return s.sendVerification(ctx, u)
}

func (s *AuthService) sendVerification(ctx context.Context, u domain.User) error {
	raw, exp, err := s.issueOneTime(ctx, verificationTokens, u.ID, s.verificationTTL())
	if err != nil {
		return err
	}
	if s.Notifier != nil {
		if err := s.Notifier.EmailVerification(ctx, u, raw, exp); err != nil {
			slogx.FromContext(ctx).Warn("failed to deliver verification",
				slog.String("user_id", u.ID), slog.Any("error", err))
		}
	}
	record(ctx, s.Audit, audit.VerificationIssued, u.ID, "")
	return nil
}
