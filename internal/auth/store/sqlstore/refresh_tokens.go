package sqlstore

import (
	"context"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/domain"
)

type refreshTokensRepo struct {
	q queries
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.q.exec(ctx, `INSERT INTO refresh_tokens
		(id, user_id, token_hash, session_id, remember_me, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, t.SessionID, t.RememberMe, t.ExpiresAt.UTC(), created.UTC())
	return err
}

func (r *refreshTokensRepo) ClaimRefreshToken(ctx context.Context, hash string) (domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.q.queryRow(ctx, `SELECT id, user_id, token_hash, session_id, remember_me, expires_at, created_at
		FROM refresh_tokens WHERE token_hash = ?`, hash).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.SessionID, &t.RememberMe, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}

	// Losing a concurrent claim shows up as zero rows here.
	if err := expectOne(r.q.exec(ctx, `DELETE FROM refresh_tokens WHERE id = ?`, t.ID)); err != nil {
		return domain.RefreshToken{}, err
	}

	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func (r *refreshTokensRepo) DeleteRefreshToken(ctx context.Context, hash string) error {
	_, err := r.q.exec(ctx, `DELETE FROM refresh_tokens WHERE token_hash = ?`, hash)
	return err
}

func (r *refreshTokensRepo) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	_, err := r.q.exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID)
	return err
}

func (r *refreshTokensRepo) DeleteSessionRefreshTokens(ctx context.Context, userID, sessionID string) error {
	_, err := r.q.exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = ? AND session_id = ?`, userID, sessionID)
	return err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.q.exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
