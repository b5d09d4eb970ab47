package sqlstore

import (
	"context"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/domain"
)

// oneTimeTokensRepo serves both token tables; they share a schema.
type oneTimeTokensRepo struct {
	q     queries
	table string
}

func newResetTokensRepo(q queries) *oneTimeTokensRepo {
	return &oneTimeTokensRepo{q: q, table: "password_reset_tokens"}
}

func newVerificationTokensRepo(q queries) *oneTimeTokensRepo {
	return &oneTimeTokensRepo{q: q, table: "email_verification_tokens"}
}

func (r *oneTimeTokensRepo) CreateToken(ctx context.Context, t domain.OneTimeToken) error {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.q.exec(ctx, `INSERT INTO `+r.table+` (id, user_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt.UTC(), created.UTC())
	return err
}

func (r *oneTimeTokensRepo) ConsumeToken(ctx context.Context, hash string) (domain.OneTimeToken, error) {
	var t domain.OneTimeToken
	err := r.q.queryRow(ctx, `SELECT id, user_id, token_hash, expires_at, created_at
		FROM `+r.table+` WHERE token_hash = ?`, hash).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return domain.OneTimeToken{}, mapNotFound(err)
	}

	if err := expectOne(r.q.exec(ctx, `DELETE FROM `+r.table+` WHERE id = ?`, t.ID)); err != nil {
		return domain.OneTimeToken{}, err
	}

	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func (r *oneTimeTokensRepo) DeleteUserTokens(ctx context.Context, userID string) error {
	_, err := r.q.exec(ctx, `DELETE FROM `+r.table+` WHERE user_id = ?`, userID)
	return err
}

func (r *oneTimeTokensRepo) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.q.exec(ctx, `DELETE FROM `+r.table+` WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
