package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the caller.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindRateLimit
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimit:
		return "rate_limit"
	default:
		return "internal"
	}
}

// HTTPStatus maps k onto a response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is an operational error that is safe to report to the caller.
// Message must never contain secrets or reveal whether an account exists.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind and Code so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	c := *e
	c.Details = details
	return &c
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

func Authentication(code, msg string) *Error {
	return &Error{Kind: KindAuthentication, Code: code, Message: msg}
}

func Authorization(code, msg string) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: msg}
}

func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

func Conflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

// Common errors. Compare with errors.Is.
var (
	ErrInvalidCredentials     = Authentication("INVALID_CREDENTIALS", "Invalid email or password")
	ErrAuthRequired           = Authentication("AUTHENTICATION_REQUIRED", "Authentication required")
	ErrTokenExpired           = Authentication("TOKEN_EXPIRED", "Token has expired")
	ErrTokenInvalid           = Authentication("INVALID_TOKEN", "Invalid token")
	ErrInvalidOrExpiredToken  = Authentication("INVALID_OR_EXPIRED_TOKEN", "Invalid or expired token")
	ErrAccountUnavailable     = Authentication("ACCOUNT_UNAVAILABLE", "Account is not available")
	ErrForbidden              = Authorization("FORBIDDEN", "Insufficient permissions")
	ErrUserNotFound           = NotFound("USER_NOT_FOUND", "User not found")
	ErrSessionNotFound        = NotFound("SESSION_NOT_FOUND", "Session not found")
	ErrSessionRevoked         = Authentication("SESSION_REVOKED", "Session has been revoked")
	ErrEmailTaken             = Conflict("EMAIL_TAKEN", "Email is already registered")
	ErrValidation             = Validation("VALIDATION_ERROR", "Invalid request")
	ErrWeakPassword           = Validation("WEAK_PASSWORD", "Password does not meet requirements")
	ErrInvalidCurrentPassword = Validation("INVALID_CURRENT_PASSWORD", "Current password is incorrect")
	ErrPasswordReused         = Validation("PASSWORD_REUSED", "New password must differ from the current password")
	ErrRateLimited            = &Error{Kind: KindRateLimit, Code: "RATE_LIMITED", Message: "Too many attempts. Please try again later."}
)

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
