package domain

import (
	"slices"
	"strings"
	"time"
)

// Role is the coarse authorization level of a user.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleEmployee   Role = "employee"
	RoleViewer     Role = "viewer"
)

// Roles lists every valid role, most privileged first.
var Roles = []Role{RoleSuperAdmin, RoleAdmin, RoleManager, RoleEmployee, RoleViewer}

func (r Role) Valid() bool { return slices.Contains(Roles, r) }

// IsAdmin reports whether r bypasses ownership checks.
func (r Role) IsAdmin() bool { return r == RoleSuperAdmin || r == RoleAdmin }

// Department is the organisational unit a user belongs to.
type Department string

const (
	DeptManagement    Department = "management"
	DeptFinance       Department = "finance"
	DeptHR            Department = "hr"
	DeptEngineering   Department = "engineering"
	DeptManufacturing Department = "manufacturing"
	DeptControl       Department = "control"
)

// Departments lists every valid department.
var Departments = []Department{DeptManagement, DeptFinance, DeptHR, DeptEngineering, DeptManufacturing, DeptControl}

func (d Department) Valid() bool { return slices.Contains(Departments, d) }

// User is a subject that can authenticate.
type User struct {
	ID            string
	Email         string
	PasswordHash  string // bcrypt
	FirstName     string
	LastName      string
	Role          Role
	Department    Department
	CompanyID     string
	Permissions   []string
	Active        bool
	EmailVerified bool
	LastLoginAt   *time.Time
	DeletedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanAuthenticate is false for inactive or tombstoned users.
func (u User) CanAuthenticate() bool { return u.Active && u.DeletedAt == nil }

// NormalizeEmail trims and lowercases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Profile is the public view of a user. It never carries the password hash.
type Profile struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	Role          Role       `json:"role"`
	Department    Department `json:"department"`
	CompanyID     string     `json:"companyId,omitempty"`
	Permissions   []string   `json:"permissions"`
	Active        bool       `json:"isActive"`
	EmailVerified bool       `json:"emailVerified"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (u User) Profile() Profile {
	perms := u.Permissions
	if perms == nil {
		perms = []string{}
	}
	return Profile{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          u.Role,
		Department:    u.Department,
		CompanyID:     u.CompanyID,
		Permissions:   perms,
		Active:        u.Active,
		EmailVerified: u.EmailVerified,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}
