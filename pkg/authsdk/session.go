package authsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// refreshSkew is how long before expiry a Session refreshes its access token.
const refreshSkew = 30 * time.Second

// Session represents an authenticated login with automatic token refresh.
// All Session methods handle token expiration and refresh when needed.
type Session struct {
	client *SDKClient

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	sessionID    string
	expiresAt    time.Time
}

// newSession creates a new authenticated session from a token response.
func newSession(client *SDKClient, tokenResp TokenResponse) *Session {
	s := &Session{client: client}
	s.apply(tokenResp)
	return s
}

// apply stores tokenResp. The caller must hold s.mu or own s exclusively.
func (s *Session) apply(tokenResp TokenResponse) {
	s.accessToken = tokenResp.Token
	s.refreshToken = tokenResp.RefreshToken
	if tokenResp.SessionID != "" {
		s.sessionID = tokenResp.SessionID
	}
	s.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - refreshSkew)
}

// getValidToken returns a valid access token, refreshing it if expired.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed while we waited.
	if time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}
	if s.refreshToken == "" {
		return "", fmt.Errorf("access token expired and no refresh token available")
	}

	tokenResp, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	s.apply(*tokenResp)
	return s.accessToken, nil
}

// AccessToken returns the current access token without checking expiration.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// ID returns the server-side session id.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Refresh forces a token rotation regardless of expiry.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokenResp, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return err
	}
	s.apply(*tokenResp)
	return nil
}

// Logout ends this session on the server. The Session is unusable afterwards.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.RLock()
	req := LogoutRequest{RefreshToken: s.refreshToken, SessionID: s.sessionID}
	s.mu.RUnlock()

	if _, err := s.doAuthRequest(ctx, http.MethodPost, APIPrefix+"/auth/logout", req, nil, http.StatusOK); err != nil {
		return err
	}

	s.mu.Lock()
	s.accessToken, s.refreshToken = "", ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
	return nil
}

// Me returns the caller's profile.
func (s *Session) Me(ctx context.Context) (*User, error) {
	var u User
	if _, err := s.doAuthRequest(ctx, http.MethodGet, APIPrefix+"/auth/me", nil, &u, http.StatusOK); err != nil {
		return nil, err
	}
	return &u, nil
}

// ChangePassword changes the caller's password. The server revokes every
// other session and the Session switches to the returned tokens.
func (s *Session) ChangePassword(ctx context.Context, current, next string) error {
	var resp TokenResponse
	_, err := s.doAuthRequest(ctx, http.MethodPost, APIPrefix+"/auth/change-password",
		ChangePasswordRequest{CurrentPassword: current, NewPassword: next}, &resp, http.StatusOK)
	if err != nil {
		return err
	}
	if resp.Token != "" {
		s.mu.Lock()
		s.apply(resp)
		s.mu.Unlock()
	}
	return nil
}

// ListSessions returns the caller's live sessions.
func (s *Session) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var sessions []SessionInfo
	if _, err := s.doAuthRequest(ctx, http.MethodGet, APIPrefix+"/auth/sessions", nil, &sessions, http.StatusOK); err != nil {
		return nil, err
	}
	return sessions, nil
}

// RevokeSession ends one of the caller's sessions.
func (s *Session) RevokeSession(ctx context.Context, id string) error {
	_, err := s.doAuthRequest(ctx, http.MethodDelete, APIPrefix+"/auth/sessions/"+url.PathEscape(id), nil, nil, http.StatusOK)
	return err
}

// ============================================================================
// User administration
// ============================================================================

func (s *Session) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	var u User
	if _, err := s.doAuthRequest(ctx, http.MethodPost, APIPrefix+"/users", req, &u, http.StatusCreated); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Session) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if _, err := s.doAuthRequest(ctx, http.MethodGet, APIPrefix+"/users/"+url.PathEscape(id), nil, &u, http.StatusOK); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateAccess changes a user's role, department and permissions.
func (s *Session) UpdateAccess(ctx context.Context, id string, req UpdateAccessRequest) (*User, error) {
	var u User
	if _, err := s.doAuthRequest(ctx, http.MethodPatch, APIPrefix+"/users/"+url.PathEscape(id)+"/access", req, &u, http.StatusOK); err != nil {
		return nil, err
	}
	return &u, nil
}

// SetStatus activates or deactivates a user.
func (s *Session) SetStatus(ctx context.Context, id string, active bool) (*User, error) {
	var u User
	if _, err := s.doAuthRequest(ctx, http.MethodPatch, APIPrefix+"/users/"+url.PathEscape(id)+"/status",
		UpdateStatusRequest{Active: &active}, &u, http.StatusOK); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Session) DeleteUser(ctx context.Context, id string) error {
	_, err := s.doAuthRequest(ctx, http.MethodDelete, APIPrefix+"/users/"+url.PathEscape(id), nil, nil, http.StatusOK)
	return err
}

// ListCompanyUsers lists the users of a company.
func (s *Session) ListCompanyUsers(ctx context.Context, companyID string) ([]User, error) {
	var users []User
	if _, err := s.doAuthRequest(ctx, http.MethodGet, APIPrefix+"/companies/"+url.PathEscape(companyID)+"/users", nil, &users, http.StatusOK); err != nil {
		return nil, err
	}
	return users, nil
}

// Get performs an authenticated GET against any API path and decodes the
// envelope data into target. It is meant for the department modules.
func (s *Session) Get(ctx context.Context, path string, target any) error {
	_, err := s.doAuthRequest(ctx, http.MethodGet, path, nil, target, http.StatusOK)
	return err
}
