package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/internal/auth/store"
	"github.com/aussiebroadwan/erp/pkg/cryptox"
	"github.com/aussiebroadwan/erp/pkg/idx"
	"github.com/aussiebroadwan/erp/pkg/jwtx"
	"github.com/aussiebroadwan/erp/pkg/slogx"
)

// TokenService mints and validates access/refresh token pairs.
//
// Access tokens are HS256 JWTs carrying the subject's authorization
// attributes. Refresh tokens are opaque 256-bit values stored by fingerprint
// and are single use: every rotation replaces the row in one transaction.
type TokenService struct {
	Signer *jwtx.HS256
	Store  store.Store
	Issuer string

	AccessTTL            time.Duration
	RememberMeAccessTTL  time.Duration
	RefreshTTL           time.Duration
	RememberMeRefreshTTL time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Rotation is the result of a successful refresh token rotation.
type Rotation struct {
	Pair       domain.TokenPair
	User       domain.User
	RememberMe bool
	ExpiresAt  time.Time // of the new refresh token
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *TokenService) accessTTL(rememberMe bool) time.Duration {
	if rememberMe && s.RememberMeAccessTTL > 0 {
		return s.RememberMeAccessTTL
	}
	if s.AccessTTL > 0 {
		return s.AccessTTL
	}
	return jwtx.DefaultAccessTokenTTL
}

func (s *TokenService) refreshTTL(rememberMe bool) time.Duration {
	if rememberMe && s.RememberMeRefreshTTL > 0 {
		return s.RememberMeRefreshTTL
	}
	if s.RefreshTTL > 0 {
		return s.RefreshTTL
	}
	return jwtx.DefaultRefreshTokenTTL
}

// SessionTTL is how long a session created with rememberMe lives. It tracks
// the refresh token lifetime so a usable refresh token always has a session.
func (s *TokenService) SessionTTL(rememberMe bool) time.Duration {
	return s.refreshTTL(rememberMe)
}

// IssueAccessToken signs an access token for u bound to sessionID. It
// returns the token and its lifetime.
func (s *TokenService) IssueAccessToken(u domain.User, sessionID string, rememberMe bool) (string, time.Duration, error) {
	ttl := s.accessTTL(rememberMe)
	claims := jwtx.NewAccessClaims(jwtx.Subject{
		ID:          u.ID,
		Email:       u.Email,
		Role:        string(u.Role),
		Department:  string(u.Department),
		CompanyID:   u.CompanyID,
		Permissions: u.Permissions,
	}, sessionID, s.Issuer, ttl, s.now())

	tok, err := s.Signer.Sign(claims)
	if err != nil {
		return "", 0, fmt.Errorf("sign access token: %w", err)
	}
	return tok, ttl, nil
}

// IssueRefreshToken creates and persists a refresh token through st, which
// is normally a transaction. The raw value is returned once and never stored.
func (s *TokenService) IssueRefreshToken(ctx context.Context, st store.Store, userID, sessionID string, rememberMe bool) (string, time.Time, error) {
	raw, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now()
	rt := domain.RefreshToken{
		ID:         idx.New().String(),
		UserID:     userID,
		TokenHash:  cryptox.FingerprintToken(raw),
		SessionID:  sessionID,
		RememberMe: rememberMe,
		ExpiresAt:  now.Add(s.refreshTTL(rememberMe)),
		CreatedAt:  now,
	}
	if err := st.RefreshTokens().CreateRefreshToken(ctx, rt); err != nil {
		return "", time.Time{}, fmt.Errorf("create refresh token: %w", err)
	}
	return raw, rt.ExpiresAt, nil
}

// VerifyAccessToken checks signature, issuer and expiry. It fails with
// domain.ErrTokenExpired or domain.ErrTokenInvalid and never panics.
func (s *TokenService) VerifyAccessToken(token string) (jwtx.Claims, error) {
	claims, err := s.Signer.Verify(token)
	if err == nil {
		return claims, nil
	}
	if errors.Is(err, jwtx.ErrExpired) {
		return jwtx.Claims{}, domain.ErrTokenExpired.Wrap(err)
	}
	return jwtx.Claims{}, domain.ErrTokenInvalid.Wrap(err)
}

// RotateRefreshToken exchanges raw for a new token pair. The old record is
// claimed and the new one inserted in a single transaction, so of several
// concurrent rotations of the same token exactly one succeeds.
//
// The access token is signed from the subject's current stored attributes
// and keeps the session id. Fails with domain.ErrInvalidOrExpiredToken.
func (s *TokenService) RotateRefreshToken(ctx context.Context, raw string) (*Rotation, error) {
	l := slogx.FromContext(ctx)
	if raw == "" {
		return nil, domain.ErrInvalidOrExpiredToken
	}
	hash := cryptox.FingerprintToken(raw)

	var rot Rotation
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		old, err := tx.RefreshTokens().ClaimRefreshToken(ctx, hash)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrInvalidOrExpiredToken
			}
			return fmt.Errorf("claim refresh token: %w", err)
		}
		if !s.now().Before(old.ExpiresAt) {
			l.Info("refresh token expired", slog.String("user_id", old.UserID))
			return errExpiredRefresh
		}

		u, err := tx.Users().GetUserByID(ctx, old.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrInvalidOrExpiredToken
			}
			return fmt.Errorf("load user: %w", err)
		}
		if !u.CanAuthenticate() {
			return domain.ErrInvalidOrExpiredToken
		}

		newRaw, exp, err := s.IssueRefreshToken(ctx, tx, u.ID, old.SessionID, old.RememberMe)
		if err != nil {
			return err
		}
		access, ttl, err := s.IssueAccessToken(u, old.SessionID, old.RememberMe)
		if err != nil {
			return err
		}

		rot = Rotation{
			Pair: domain.TokenPair{
				AccessToken:  access,
				RefreshToken: newRaw,
				ExpiresIn:    ttl,
				SessionID:    old.SessionID,
			},
			User:       u,
			RememberMe: old.RememberMe,
			ExpiresAt:  exp,
		}
		return nil
	})
	if errors.Is(err, errExpiredRefresh) {
		// The claim was rolled back; drop the expired row on its own.
		if derr := s.Store.RefreshTokens().DeleteRefreshToken(ctx, hash); derr != nil {
			l.Warn("failed to delete expired refresh token", slog.Any("error", derr))
		}
		return nil, domain.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, err
	}
	return &rot, nil
}

var errExpiredRefresh = errors.New("refresh token expired")

// RevokeRefreshToken deletes the record for raw. Unknown tokens are ignored.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	if err := s.Store.RefreshTokens().DeleteRefreshToken(ctx, cryptox.FingerprintToken(raw)); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}
