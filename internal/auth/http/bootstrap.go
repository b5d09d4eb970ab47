package http

import (
	"net/http"

	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/internal/auth/service"
	"github.com/aussiebroadwan/erp/pkg/authsdk"
	"github.com/aussiebroadwan/erp/pkg/httpx"
	"github.com/aussiebroadwan/erp/pkg/slogx"
)

type BootstrapHandler struct {
	BootstrapService *service.BootstrapService
	errs             errorWriter
}

// ServeHTTP handles the bootstrap endpoint for initial system setup.
//
//	@Summary		Bootstrap the system
//	@Description	Creates the first super admin. This endpoint is only available when a bootstrap token is configured and only while no user exists.
//	@Tags			Bootstrap
//	@Accept			json
//	@Produce		json
//	@Param			X-Bootstrap-Token	header		string						true	"Bootstrap token for authorization"
//	@Param			request				body		authsdk.BootstrapRequest	true	"Super admin account"
//	@Success		201					{object}	authsdk.Envelope{data=authsdk.User}
//	@Failure		400					{object}	authsdk.Envelope	"Invalid request body or validation failed"
//	@Failure		401					{object}	authsdk.Envelope	"Missing or invalid bootstrap token"
//	@Failure		404					{object}	authsdk.Envelope	"Bootstrap not enabled (no token configured)"
//	@Failure		409					{object}	authsdk.Envelope	"System already bootstrapped"
//	@Router			/api/v1/bootstrap [post].
func (h *BootstrapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l := slogx.FromContext(r.Context())
	l.Info("Starting to bootstrap")

	// 1. Check if enabled
	if h.BootstrapService.Token == "" {
		h.errs.write(w, r, service.ErrBootstrapDisabled)
		return
	}

	// 2. Require bootstrap token header
	token := r.Header.Get("X-Bootstrap-Token")
	if token == "" {
		h.errs.write(w, r, service.ErrBootstrapUnauthorized)
		return
	}

	// 3. Parse request body and validate
	var req authsdk.BootstrapRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}

	// 4. Perform bootstrap
	u, err := h.BootstrapService.Bootstrap(r.Context(), token, service.BootstrapInput{
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
