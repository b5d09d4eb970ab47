package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/pkg/slogx"
)

// Notifier delivers one-time tokens to their owner. Delivery itself (mail
// templates, transport) lives outside this service.
type Notifier interface {
	PasswordReset(ctx context.Context, u domain.User, token string, expiresAt time.Time) error
	EmailVerification(ctx context.Context, u domain.User, token string, expiresAt time.Time) error
}

// LogNotifier writes a log line per notification. Tokens are only included
// when ExposeTokens is set, which development setups use in place of mail.
type LogNotifier struct {
	ExposeTokens bool
}

func (n LogNotifier) PasswordReset(ctx context.Context, u domain.User, token string, expiresAt time.Time) error {
	n.log(ctx, "password reset issued", u, token, expiresAt)
	return nil
}

func (n LogNotifier) EmailVerification(ctx context.Context, u domain.User, token string, expiresAt time.Time) error {
	n.log(ctx, "email verification issued", u, token, expiresAt)
	return nil
}

func (n LogNotifier) log(ctx context.Context, msg string, u domain.User, token string, expiresAt time.Time) {
	attrs := []any{
		slog.String("user_id", u.ID),
		slog.Time("expires_at", expiresAt),
	}
	if n.ExposeTokens {
		attrs = append(attrs, slog.String("token", token))
	}
	slogx.FromContext(ctx).Info(msg, attrs...)
}
