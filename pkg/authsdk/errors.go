package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes the service returns in the response envelope.
const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeInvalidJSON            = "INVALID_JSON"
	CodeWeakPassword           = "WEAK_PASSWORD"
	CodeInvalidCredentials     = "INVALID_CREDENTIALS"
	CodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeInvalidToken           = "INVALID_TOKEN"
	CodeInvalidOrExpiredToken  = "INVALID_OR_EXPIRED_TOKEN"
	CodeAccountUnavailable     = "ACCOUNT_UNAVAILABLE"
	CodeSessionRevoked         = "SESSION_REVOKED"
	CodeInvalidCurrentPassword = "INVALID_CURRENT_PASSWORD"
	CodePasswordReused         = "PASSWORD_REUSED"
	CodeForbidden              = "FORBIDDEN"
	CodeNotFound               = "NOT_FOUND"
	CodeUserNotFound           = "USER_NOT_FOUND"
	CodeEmailTaken             = "EMAIL_TAKEN"
	CodeRateLimited            = "RATE_LIMITED"
	CodeNotImplemented         = "NOT_IMPLEMENTED"
	CodeInternal               = "INTERNAL_ERROR"
)

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
}

// parseErrorResponse builds an *APIError from a failed response body. Bodies
// that are not an envelope still produce an error carrying the status.
func parseErrorResponse(resp *http.Response, body []byte) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Code:       CodeInternal,
		Message:    http.StatusText(resp.StatusCode),
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}
