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

// UserService is the administrative side of the credential store. Callers
// are authorized by the HTTP guards; the service only enforces rules that
// depend on both actor and target.
type UserService struct {
	Store      store.Store
	Sessions   session.Store
	Policy     PasswordPolicy
	Audit      audit.Sink
	BcryptCost int

	// Now defaults to time.Now.
	Now func() time.Time
}

type CreateUserInput struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	Role        domain.Role
	Department  domain.Department
	CompanyID   string
	Permissions []string // nil means the role defaults
}

type AccessInput struct {
	Role        domain.Role
	Department  domain.Department
	Permissions []string // nil means the role defaults
}

func (s *UserService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// canGrant reports whether actor may hand out role r. Only super admins
// mint admins.
func canGrant(actor domain.Principal, r domain.Role) bool {
	if r.IsAdmin() {
		return actor.Role == domain.RoleSuperAdmin
	}
	return true
}

// canManage reports whether actor may modify target at all. Admins cannot
// touch other admins unless they are super admins.
func canManage(actor domain.Principal, target domain.User) bool {
	if target.Role.IsAdmin() {
		return actor.Role == domain.RoleSuperAdmin
	}
	return true
}

// GetUserByID fetches a user by id.
//
// Errors: ErrUserNotFound.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}
	return u, nil
}

// ListCompanyUsers returns the users of a company ordered by creation date.
func (s *UserService) ListCompanyUsers(ctx context.Context, companyID string) ([]domain.User, error) {
	return s.Store.Users().ListUsersByCompany(ctx, companyID)
}

// CreateUser provisions an account on behalf of an administrator. The
// account starts active; the email is not verified.
//
// Errors: ErrValidation, ErrWeakPassword, ErrForbidden, ErrEmailTaken.
func (s *UserService) CreateUser(ctx context.Context, actor domain.Principal, in CreateUserInput) (domain.User, error) {
	email := domain.NormalizeEmail(in.Email)
	if email == "" || !in.Role.Valid() || !in.Department.Valid() {
		return domain.User{}, domain.ErrValidation
	}
	if !canGrant(actor, in.Role) {
		record(ctx, s.Audit, audit.AuthorizationDenied, actor.UserID, "role_escalation",
			slog.String("requested_role", string(in.Role)))
		return domain.User{}, domain.ErrForbidden
	}
	if err := s.Policy.check(in.Password); err != nil {
		return domain.User{}, err
	}
	hash, err := cryptox.HashPassword(in.Password, s.BcryptCost)
	if err != nil {
		return domain.User{}, err
	}

	perms := in.Permissions
	if perms == nil {
		perms = domain.DefaultPermissions(in.Role, in.Department)
	}
	now := s.now()
	u := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         in.Role,
		Department:   in.Department,
		CompanyID:    strings.TrimSpace(in.CompanyID),
		Permissions:  perms,
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
	record(ctx, s.Audit, audit.UserCreated, actor.UserID, "",
		slog.String("target_id", u.ID), slog.String("role", string(u.Role)))
	return u, nil
}

// UpdateAccess rewrites role, department and permissions of a user and
// revokes the target's sessions so new tokens carry the new attributes.
//
// Errors: ErrValidation, ErrUserNotFound, ErrForbidden.
func (s *UserService) UpdateAccess(ctx context.Context, actor domain.Principal, userID string, in AccessInput) (domain.User, error) {
	if !in.Role.Valid() || !in.Department.Valid() {
		return domain.User{}, domain.ErrValidation
	}
	target, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if !canManage(actor, target) || !canGrant(actor, in.Role) {
		record(ctx, s.Audit, audit.AuthorizationDenied, actor.UserID, "role_escalation",
			slog.String("target_id", userID), slog.String("requested_role", string(in.Role)))
		return domain.User{}, domain.ErrForbidden
	}

	perms := in.Permissions
	if perms == nil {
		perms = domain.DefaultPermissions(in.Role, in.Department)
	}
	if err := s.Store.Users().UpdateAccess(ctx, userID, in.Role, in.Department, perms); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}
	if err := s.Sessions.DeleteUser(ctx, userID); err != nil {
		slogx.FromContext(ctx).Warn("failed to revoke sessions after access change",
			slog.String("user_id", userID), slog.Any("error", err))
	}

	target.Role, target.Department, target.Permissions = in.Role, in.Department, perms
	record(ctx, s.Audit, audit.UserAccessChanged, actor.UserID, "",
		slog.String("target_id", userID), slog.String("role", string(in.Role)),
		slog.String("department", string(in.Department)))
	return target, nil
}

// SetStatus activates or deactivates a user. Deactivation revokes every
// refresh token and session of the user.
//
// Errors: ErrUserNotFound, ErrForbidden, ErrValidation (self-deactivation).
func (s *UserService) SetStatus(ctx context.Context, actor domain.Principal, userID string, active bool) (domain.User, error) {
	if !active && actor.UserID == userID {
		return domain.User{}, domain.Validation("CANNOT_DEACTIVATE_SELF", "You cannot deactivate your own account")
	}
	target, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if !canManage(actor, target) {
		record(ctx, s.Audit, audit.AuthorizationDenied, actor.UserID, "target_protected",
			slog.String("target_id", userID))
		return domain.User{}, domain.ErrForbidden
	}

	if err := s.Store.Users().SetActive(ctx, userID, active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}
	if !active {
		if err := revokeUser(ctx, s.Store, s.Sessions, userID); err != nil {
			return domain.User{}, err
		}
	}

	target.Active = active
	record(ctx, s.Audit, audit.UserStatusChanged, actor.UserID, "",
		slog.String("target_id", userID), slog.Bool("active", active))
	return target, nil
}

// DeleteUser tombstones a user and revokes everything it holds. The email
// becomes available for a new account.
//
// Errors: ErrUserNotFound, ErrForbidden, ErrValidation (self-deletion).
func (s *UserService) DeleteUser(ctx context.Context, actor domain.Principal, userID string) error {
	if actor.UserID == userID {
		return domain.Validation("CANNOT_DELETE_SELF", "You cannot delete your own account")
	}
	target, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !canManage(actor, target) {
		record(ctx, s.Audit, audit.AuthorizationDenied, actor.UserID, "target_protected",
			slog.String("target_id", userID))
		return domain.ErrForbidden
	}

	if err := s.Store.Users().SoftDeleteUser(ctx, userID, s.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrUserNotFound
		}
		return err
	}
	if err := revokeUser(ctx, s.Store, s.Sessions, userID); err != nil {
		return err
	}
	record(ctx, s.Audit, audit.UserDeleted, actor.UserID, "", slog.String("target_id", userID))
	return nil
}
