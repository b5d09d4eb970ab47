package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/internal/auth/store"
	"github.com/aussiebroadwan/erp/pkg/cryptox"
	"github.com/aussiebroadwan/erp/pkg/idx"
	"github.com/aussiebroadwan/erp/pkg/slogx"
)

var (
	ErrBootstrapDisabled     = domain.NotFound("NOT_FOUND", "Bootstrap is not enabled")
	ErrBootstrapAlready      = domain.Conflict("ALREADY_BOOTSTRAPPED", "System has already been bootstrapped")
	ErrBootstrapUnauthorized = domain.Authentication("INVALID_BOOTSTRAP_TOKEN", "Invalid bootstrap token")
)

// BootstrapService creates the first super admin of an empty system. It is
// only enabled when a bootstrap token is configured.
type BootstrapService struct {
	Store      store.Store
	Token      string // pre-configured bootstrap token
	Policy     PasswordPolicy
	BcryptCost int
}

type BootstrapInput struct {
	Email      string
	Password   string
	FirstName  string
	LastName   string
	Department domain.Department
	CompanyID  string
}

func (s *BootstrapService) IsBootstrapped(ctx context.Context) (bool, error) {
	empty, err := s.Store.Users().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	return !empty, nil
}

// Bootstrap creates the super admin and returns it.
//
// Errors: ErrBootstrapDisabled, ErrBootstrapUnauthorized,
// ErrBootstrapAlready, ErrValidation, ErrWeakPassword.
func (s *BootstrapService) Bootstrap(ctx context.Context, token string, in BootstrapInput) (domain.User, error) {
	l := slogx.FromContext(ctx)

	if s.Token == "" {
		return domain.User{}, ErrBootstrapDisabled
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) != 1 {
		l.Warn("unauthorized bootstrap attempt")
		return domain.User{}, ErrBootstrapUnauthorized
	}

	email := domain.NormalizeEmail(in.Email)
	dept := in.Department
	if dept == "" {
		dept = domain.DeptManagement
	}
	if email == "" || !dept.Valid() {
		return domain.User{}, domain.ErrValidation
	}
	if err := s.Policy.check(in.Password); err != nil {
		return domain.User{}, err
	}
	hash, err := cryptox.HashPassword(in.Password, s.BcryptCost)
	if err != nil {
		return domain.User{}, err
	}

	now := time.Now().UTC()
	u := domain.User{
		ID:            idx.New().String(),
		Email:         email,
		PasswordHash:  hash,
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		Role:          domain.RoleSuperAdmin,
		Department:    dept,
		CompanyID:     strings.TrimSpace(in.CompanyID),
		Permissions:   domain.DefaultPermissions(domain.RoleSuperAdmin, dept),
		Active:        true,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// The emptiness check and the insert share a transaction so two
	// concurrent bootstraps cannot both succeed.
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		empty, err := tx.Users().IsEmpty(ctx)
		if err != nil {
			return err
		}
		if !empty {
			return ErrBootstrapAlready
		}
		return tx.Users().CreateUser(ctx, u)
	})
	if err != nil {
		if errors.Is(err, ErrBootstrapAlready) {
			l.Warn("attempted bootstrap on already-bootstrapped system")
		}
		return domain.User{}, err
	}

	l.Info("successfully bootstrapped system", slog.String("admin_user_id", u.ID))
	return u, nil
}
