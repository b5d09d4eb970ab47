package authsdk

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Envelope
// ============================================================================

// Envelope is the shape of every API response. Data is left raw so callers
// decode it into the type the endpoint documents.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the error member of a failed response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ============================================================================
// Authentication
// ============================================================================

type RegisterRequest struct {
	Email      string `json:"email"      validate:"required,email,max=254"`
	Password   string `json:"password"   validate:"required,max=128"`
	FirstName  string `json:"firstName"  validate:"required,max=100"`
	LastName   string `json:"lastName"   validate:"required,max=100"`
	Department string `json:"department" validate:"required,oneof=management finance hr engineering manufacturing control"`
	CompanyID  string `json:"companyId"  validate:"max=64"`
}

type LoginRequest struct {
	Email      string `json:"email"      validate:"required,email,max=254"`
	Password   string `json:"password"   validate:"required,max=128"`
	RememberMe bool   `json:"rememberMe"`
}

type LoginResponse struct {
	User         User   `json:"user"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	SessionID    string `json:"sessionId"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// TokenResponse is returned by refresh and change-password.
type TokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	SessionID    string `json:"sessionId,omitempty"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"    validate:"required"`
	Password string `json:"password" validate:"required,max=128"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required,max=128"`
	NewPassword     string `json:"newPassword"     validate:"required,max=128"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// ============================================================================
// Users
// ============================================================================

// User is the public profile of an account.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	Role          string     `json:"role"`
	Department    string     `json:"department"`
	CompanyID     string     `json:"companyId,omitempty"`
	Permissions   []string   `json:"permissions"`
	IsActive      bool       `json:"isActive"`
	EmailVerified bool       `json:"emailVerified"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type CreateUserRequest struct {
	Email       string   `json:"email"       validate:"required,email,max=254"`
	Password    string   `json:"password"    validate:"required,max=128"`
	FirstName   string   `json:"firstName"   validate:"required,max=100"`
	LastName    string   `json:"lastName"    validate:"required,max=100"`
	Role        string   `json:"role"        validate:"required,oneof=super_admin admin manager employee viewer"`
	Department  string   `json:"department"  validate:"required,oneof=management finance hr engineering manufacturing control"`
	CompanyID   string   `json:"companyId"   validate:"max=64"`
	Permissions []string `json:"permissions" validate:"omitempty,dive,required,max=64"`
}

type UpdateAccessRequest struct {
	Role        string   `json:"role"        validate:"required,oneof=super_admin admin manager employee viewer"`
	Department  string   `json:"department"  validate:"required,oneof=management finance hr engineering manufacturing control"`
	Permissions []string `json:"permissions" validate:"omitempty,dive,required,max=64"`
}

type UpdateStatusRequest struct {
	Active *bool `json:"isActive" validate:"required"`
}

// SessionInfo describes one live login of the caller.
type SessionInfo struct {
	ID         string    `json:"id"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	RememberMe bool      `json:"rememberMe"`
	Current    bool      `json:"current"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// ============================================================================
// Bootstrap
// ============================================================================

type BootstrapRequest struct {
	Email      string `json:"email"      validate:"required,email,max=254"`
	Password   string `json:"password"   validate:"required,max=128"`
	FirstName  string `json:"firstName"  validate:"required,max=100"`
	LastName   string `json:"lastName"   validate:"required,max=100"`
	Department string `json:"department" validate:"omitempty,oneof=management finance hr engineering manufacturing control"`
	CompanyID  string `json:"companyId"  validate:"max=64"`
}

// ============================================================================
// Health
// ============================================================================

// HealthResponse is returned by /livez and /readyz. Checks is only set by
// /readyz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime,omitempty"`
	Version string        `json:"version,omitempty"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports each critical dependency.
type HealthChecks struct {
	Database string `json:"database"`
	Sessions string `json:"sessions"`
}
