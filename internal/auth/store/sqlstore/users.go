package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/internal/auth/store"
)

type usersRepo struct {
	q queries
}

const userColumns = `id, email, password_hash, first_name, last_name, role, department,
	company_id, permissions, is_active, email_verified, last_login_at, deleted_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		u           domain.User
		role, dept  string
		perms       string
		lastLoginAt sql.NullTime
		deletedAt   sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &role, &dept,
		&u.CompanyID, &perms, &u.Active, &u.EmailVerified, &lastLoginAt, &deletedAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	u.Role = domain.Role(role)
	u.Department = domain.Department(dept)
	u.LastLoginAt = mapNullTimePtr(lastLoginAt)
	u.DeletedAt = mapNullTimePtr(deletedAt)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	if err := json.Unmarshal([]byte(perms), &u.Permissions); err != nil {
		return domain.User{}, fmt.Errorf("decode permissions for %s: %w", u.ID, err)
	}
	return u, nil
}

func encodePermissions(perms []string) (string, error) {
	if perms == nil {
		perms = []string{}
	}
	b, err := json.Marshal(perms)
	return string(b), err
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.q.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ? AND deleted_at IS NULL`, id)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.q.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? AND deleted_at IS NULL`, email)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) ListUsersByCompany(ctx context.Context, companyID string) ([]domain.User, error) {
	rows, err := r.q.query(ctx,
		`SELECT `+userColumns+` FROM users WHERE company_id = ? AND deleted_at IS NULL ORDER BY created_at, id`,
		companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *usersRepo) IsEmpty(ctx context.Context) (bool, error) {
	var n int
	if err := r.q.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	perms, err := encodePermissions(u.Permissions)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = r.q.exec(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, string(u.Role), string(u.Department),
		u.CompanyID, perms, u.Active, u.EmailVerified, mapOptionalTime(u.LastLoginAt), sql.NullTime{},
		now, now,
	)
	if r.q.d.uniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return expectOne(r.q.exec(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		hash, time.Now().UTC(), userID))
}

func (r *usersRepo) UpdateAccess(
	ctx context.Context,
	userID string,
	role domain.Role,
	dept domain.Department,
	perms []string,
) error {
	encoded, err := encodePermissions(perms)
	if err != nil {
		return err
	}
	return expectOne(r.q.exec(ctx,
		`UPDATE users SET role = ?, department = ?, permissions = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		string(role), string(dept), encoded, time.Now().UTC(), userID))
}

func (r *usersRepo) SetActive(ctx context.Context, userID string, active bool) error {
	return expectOne(r.q.exec(ctx,
		`UPDATE users SET is_active = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		active, time.Now().UTC(), userID))
}

func (r *usersRepo) MarkEmailVerified(ctx context.Context, userID string) error {
	return expectOne(r.q.exec(ctx,
		`UPDATE users SET email_verified = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		true, time.Now().UTC(), userID))
}

func (r *usersRepo) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return expectOne(r.q.exec(ctx,
		`UPDATE users SET last_login_at = ? WHERE id = ? AND deleted_at IS NULL`,
		at.UTC(), userID))
}

func (r *usersRepo) SoftDeleteUser(ctx context.Context, userID string, at time.Time) error {
	return expectOne(r.q.exec(ctx,
		`UPDATE users SET deleted_at = ?, is_active = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		at.UTC(), false, at.UTC(), userID))
}
