package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// APIPrefix is the versioned path every API route lives under.
const APIPrefix = "/api/v1"

// SDKClient is a client for the ERP authentication service. It provides the
// public operations and creates authenticated Sessions.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a new auth service client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Register creates an employee account.
func (c *SDKClient) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	var u User
	if _, err := c.call(ctx, http.MethodPost, APIPrefix+"/auth/register", req, &u, http.StatusCreated); err != nil {
		return nil, err
	}
	return &u, nil
}

// Login authenticates with email and password and returns a Session.
func (c *SDKClient) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	var resp LoginResponse
	if _, err := c.call(ctx, http.MethodPost, APIPrefix+"/auth/login", req, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return newSession(c, TokenResponse{
		Token:        resp.Token,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
		SessionID:    resp.SessionID,
	}), nil
}

// Refresh exchanges a refresh token for a new pair. The old refresh token
// is invalid afterwards.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var resp TokenResponse
	if _, err := c.call(ctx, http.MethodPost, APIPrefix+"/auth/refresh",
		RefreshRequest{RefreshToken: refreshToken}, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout revokes a refresh token and/or session without authenticating.
func (c *SDKClient) Logout(ctx context.Context, req LogoutRequest) error {
	_, err := c.call(ctx, http.MethodPost, APIPrefix+"/auth/logout", req, nil, http.StatusOK)
	return err
}

// ForgotPassword always succeeds for well-formed emails; the message is the
// same whether or not the account exists.
func (c *SDKClient) ForgotPassword(ctx context.Context, email string) (string, error) {
	return c.call(ctx, http.MethodPost, APIPrefix+"/auth/forgot-password",
		ForgotPasswordRequest{Email: email}, nil, http.StatusOK)
}

func (c *SDKClient) ResetPassword(ctx context.Context, token, password string) error {
	_, err := c.call(ctx, http.MethodPost, APIPrefix+"/auth/reset-password",
		ResetPasswordRequest{Token: token, Password: password}, nil, http.StatusOK)
	return err
}

func (c *SDKClient) VerifyEmail(ctx context.Context, token string) error {
	_, err := c.call(ctx, http.MethodPost, APIPrefix+"/auth/verify-email",
		VerifyEmailRequest{Token: token}, nil, http.StatusOK)
	return err
}

func (c *SDKClient) ResendVerification(ctx context.Context, email string) (string, error) {
	return c.call(ctx, http.MethodPost, APIPrefix+"/auth/resend-verification",
		ResendVerificationRequest{Email: email}, nil, http.StatusOK)
}

// Bootstrap creates the first super admin of an empty system.
func (c *SDKClient) Bootstrap(ctx context.Context, token string, req BootstrapRequest) (*User, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, APIPrefix+"/bootstrap", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-Bootstrap-Token", token)

	var u User
	if _, err := c.do(httpReq, &u, http.StatusCreated); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetLiveness calls /livez.
func (c *SDKClient) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	var h HealthResponse
	if _, err := c.call(ctx, http.MethodGet, "/livez", nil, &h, http.StatusOK); err != nil {
		return nil, err
	}
	return &h, nil
}

// GetReadiness calls /readyz.
func (c *SDKClient) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	var h HealthResponse
	if _, err := c.call(ctx, http.MethodGet, "/readyz", nil, &h, http.StatusOK); err != nil {
		return nil, err
	}
	return &h, nil
}
