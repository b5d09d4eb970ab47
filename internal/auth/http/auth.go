package http

import (
	"net/http"

	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/internal/auth/service"
	"github.com/aussiebroadwan/erp/internal/auth/session"
	"github.com/aussiebroadwan/erp/pkg/authsdk"
	"github.com/aussiebroadwan/erp/pkg/httpx"
	"github.com/aussiebroadwan/erp/pkg/slogx"
)

// Messages of the enumeration-resistant endpoints. They never depend on
// whether the account exists.
const (
	forgotPasswordMessage     = "If an account with that email exists, a password reset link has been sent."
	resendVerificationMessage = "If an unverified account with that email exists, a verification link has been sent."
)

// AuthHandler serves the credential endpoints under /auth.
type AuthHandler struct {
	AuthService *service.AuthService
	errs        errorWriter
}

func device(r *http.Request) session.Device {
	return session.Device{IP: httpx.IPKeyExtractor(r), UserAgent: r.UserAgent()}
}

func userResponse(p domain.Profile) authsdk.User {
	return authsdk.User{
		ID:            p.ID,
		Email:         p.Email,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Role:          string(p.Role),
		Department:    string(p.Department),
		CompanyID:     p.CompanyID,
		Permissions:   p.Permissions,
		IsActive:      p.Active,
		EmailVerified: p.EmailVerified,
		LastLoginAt:   p.LastLoginAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func tokenResponse(pair *domain.TokenPair) authsdk.TokenResponse {
	return authsdk.TokenResponse{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(pair.ExpiresIn.Seconds()),
		SessionID:    pair.SessionID,
	}
}

// mustPrincipal returns the principal attached by Guard.Authenticate.
func mustPrincipal(r *http.Request) domain.Principal {
	p, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		panic("http: route is missing Guard.Authenticate")
	}
	return p
}

// HandleRegister creates an employee account.
//
//	@Summary		Register an account
//	@Description	Creates an employee account with the default permissions of its department and sends an email verification link.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.RegisterRequest	true	"Account details"
//	@Success		201		{object}	authsdk.Envelope{data=authsdk.User}
//	@Failure		400		{object}	authsdk.Envelope	"Validation failed or weak password"
//	@Failure		409		{object}	authsdk.Envelope	"Email already registered"
//	@Failure		429		{object}	authsdk.Envelope	"Too many attempts"
//	@Router			/api/v1/auth/register [post].
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}

	u, err := h.AuthService.Register(r.Context(), service.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Department: domain.Department(req.Department),
		CompanyID:  req.CompanyID,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusCreated, userResponse(u.Profile()))
}

// HandleLogin authenticates with email and password.
//
//	@Summary		Log in
//	@Description	Verifies credentials and opens a session. Unknown emails, wrong passwords and disabled accounts fail identically.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LoginRequest	true	"Credentials"
//	@Success		200		{object}	authsdk.Envelope{data=authsdk.LoginResponse}
//	@Failure		400		{object}	authsdk.Envelope	"Validation failed"
//	@Failure		401		{object}	authsdk.Envelope	"Invalid email or password"
//	@Failure		429		{object}	authsdk.Envelope	"Too many attempts"
//	@Router			/api/v1/auth/login [post].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}

	res, err := h.AuthService.Login(r.Context(), service.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		Device:     device(r),
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	httpx.WriteData(w, http.StatusOK, authsdk.LoginResponse{
		User:         userResponse(res.User),
		Token:        res.Token,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    res.ExpiresIn,
		SessionID:    res.SessionID,
	})
}

// HandleLogout revokes a refresh token and session. It always succeeds.
//
//	@Summary		Log out
//	@Description	Revokes the given refresh token and session, and the caller's own session when a bearer token is sent. Idempotent.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LogoutRequest	false	"Tokens to revoke"
//	@Success		200		{object}	authsdk.Envelope
//	@Router			/api/v1/auth/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LogoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}

	var caller *domain.Principal
	if p, ok := domain.PrincipalFromContext(r.Context()); ok {
		caller = &p
	}

	in := service.LogoutInput{RefreshToken: req.RefreshToken, SessionID: req.SessionID}
	if err := h.AuthService.Logout(r.Context(), in, caller); err != nil {
		// Logging out must not fail for the client; the tokens expire anyway.
		slogx.FromContext(r.Context()).Error("logout cleanup failed", "error", err)
	}
	httpx.WriteMessage(w, http.StatusOK, "Logged out successfully")
}

// HandleRefresh rotates a refresh token.
//
//	@Summary		Refresh tokens
//	@Description	Exchanges a refresh token for a new access and refresh token. The presented refresh token becomes invalid.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.RefreshRequest	true	"Refresh token"
//	@Success		200		{object}	authsdk.Envelope{data=authsdk.TokenResponse}
//	@Failure		400		{object}	authsdk.Envelope	"Validation failed"
//	@Failure		401		{object}	authsdk.Envelope	"Invalid or expired refresh token"
//	@Router			/api/v1/auth/refresh [post].
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}

	pair, err := h.AuthService.Refresh(r.Context(), req.RefreshToken, device(r))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, tokenResponse(pair))
}

// HandleForgotPassword starts a password reset.
//
//	@Summary		Request a password reset
//	@Description	Sends a reset link when an active account exists. The response is identical either way.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.ForgotPasswordRequest	true	"Email"
//	@Success		200		{object}	authsdk.Envelope
//	@Failure		400		{object}	authsdk.Envelope	"Validation failed"
//	@Failure		429		{object}	authsdk.Envelope	"Too many attempts"
//	@Router			/api/v1/auth/forgot-password [post].
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req authsdk.ForgotPasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}
	if err := h.AuthService.ForgotPassword(r.Context(), req.Email); err != nil {
		h.errs.write(w, r, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, forgotPasswordMessage)
}

// HandleResetPassword completes a password reset.
//
//	@Summary		Reset password
//	@Description	Consumes a reset token and sets a new password. Every session and refresh token of the account is revoked.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.ResetPasswordRequest	true	"Reset token and new password"
//	@Success		200		{object}	authsdk.Envelope
//	@Failure		400		{object}	authsdk.Envelope	"Validation failed or weak password"
//	@Failure		401		{object}	authsdk.Envelope	"Invalid or expired token"
//	@Router			/api/v1/auth/reset-password [post].
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req authsdk.ResetPasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}
	if err := h.AuthService.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.errs.write(w, r, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "Password has been reset")
}

// HandleChangePassword changes the caller's password.
//
//	@Summary		Change password
//	@Description	Changes the caller's password and revokes every other session. Returns fresh tokens for the current session.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		authsdk.ChangePasswordRequest	true	"Current and new password"
//	@Success		200		{object}	authsdk.Envelope{data=authsdk.TokenResponse}
//	@Failure		400		{object}	authsdk.Envelope	"Wrong current password or weak new password"
//	@Failure		401		{object}	authsdk.Envelope	"Authentication required"
//	@Router			/api/v1/auth/change-password [post].
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)

	var req authsdk.ChangePasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}

	pair, err := h.AuthService.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	if pair == nil {
		httpx.WriteMessage(w, http.StatusOK, "Password changed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Envelope{
		Success: true,
		Data:    tokenResponse(pair),
		Message: "Password changed",
	})
}

// HandleMe returns the caller's profile.
//
//	@Summary		Current user
//	@Tags			Auth
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	authsdk.Envelope{data=authsdk.User}
//	@Failure		401	{object}	authsdk.Envelope	"Authentication required"
//	@Router			/api/v1/auth/me [get].
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.AuthService.Me(r.Context(), mustPrincipal(r))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, userResponse(u.Profile()))
}

// HandleListSessions lists the caller's sessions.
//
//	@Summary		List sessions
//	@Tags			Auth
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	authsdk.Envelope{data=[]authsdk.SessionInfo}
//	@Failure		401	{object}	authsdk.Envelope	"Authentication required"
//	@Router			/api/v1/auth/sessions [get].
func (h *AuthHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	sessions, err := h.AuthService.ListSessions(r.Context(), p)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	out := make([]authsdk.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, authsdk.SessionInfo{
			ID:         s.ID,
			IP:         s.IP,
			UserAgent:  s.UserAgent,
			RememberMe: s.RememberMe,
			Current:    s.ID == p.SessionID,
			CreatedAt:  s.CreatedAt,
			ExpiresAt:  s.ExpiresAt,
		})
	}
	httpx.WriteData(w, http.StatusOK, out)
}

// HandleRevokeSession ends one of the caller's sessions.
//
//	@Summary		Revoke a session
//	@Tags			Auth
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	authsdk.Envelope
//	@Failure		401	{object}	authsdk.Envelope	"Authentication required"
//	@Failure		404	{object}	authsdk.Envelope	"Session not found"
//	@Router			/api/v1/auth/sessions/{id} [delete].
func (h *AuthHandler) HandleRevokeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.AuthService.RevokeSession(r.Context(), mustPrincipal(r), r.PathValue("id")); err != nil {
		h.errs.write(w, r, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "Session revoked")
}

// HandleVerifyEmail consumes an email verification token.
//
//	@Summary		Verify email
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.VerifyEmailRequest	true	"Verification token"
//	@Success		200		{object}	authsdk.Envelope
//	@Failure		401		{object}	authsdk.Envelope	"Invalid or expired token"
//	@Router			/api/v1/auth/verify-email [post].
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req authsdk.VerifyEmailRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}
	if err := h.AuthService.VerifyEmail(r.Context(), req.Token); err != nil {
		h.errs.write(w, r, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "Email verified")
}

// HandleResendVerification sends a new verification link.
//
//	@Summary		Resend verification email
//	@Description	Sends a new link to unverified active accounts. The response is identical either way.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.ResendVerificationRequest	true	"Email"
//	@Success		200		{object}	authsdk.Envelope
//	@Failure		429		{object}	authsdk.Envelope	"Too many attempts"
//	@Router			/api/v1/auth/resend-verification [post].
func (h *AuthHandler) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req authsdk.ResendVerificationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}
	if err := h.AuthService.ResendVerification(r.Context(), req.Email); err != nil {
		h.errs.write(w, r, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, resendVerificationMessage)
}
