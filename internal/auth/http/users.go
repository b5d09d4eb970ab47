package http

import (
	"net/http"

	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/internal/auth/service"
	"github.com/aussiebroadwan/erp/pkg/authsdk"
	"github.com/aussiebroadwan/erp/pkg/httpx"
)

// UsersHandler serves user administration. Route guards decide who may
// call each endpoint; UserService enforces rules between actor and target.
type UsersHandler struct {
	UserService *service.UserService
	errs        errorWriter
}

// HandleCreate provisions a user.
//
//	@Summary		Create a user
//	@Description	Creates an active account. Only super admins may create admins. Permissions default to the role's set when omitted.
//	@Tags			Users
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		authsdk.CreateUserRequest	true	"User details"
//	@Success		201		{object}	authsdk.Envelope{data=authsdk.User}
//	@Failure		400		{object}	authsdk.Envelope	"Validation failed or weak password"
//	@Failure		403		{object}	authsdk.Envelope	"Insufficient permissions"
//	@Failure		409		{object}	authsdk.Envelope	"Email already registered"
//	@Router			/api/v1/users [post].
func (h *UsersHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req authsdk.CreateUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}

	u, err := h.UserService.CreateUser(r.Context(), mustPrincipal(r), service.CreateUserInput{
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Role:        domain.Role(req.Role),
		Department:  domain.Department(req.Department),
		CompanyID:   req.CompanyID,
		Permissions: req.Permissions,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusCreated, userResponse(u.Profile()))
}

// HandleGet returns one user.
//
//	@Summary		Get a user
//	@Description	Users may read themselves; admins may read anyone.
//	@Tags			Users
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"User ID"
//	@Success		200	{object}	authsdk.Envelope{data=authsdk.User}
//	@Failure		403	{object}	authsdk.Envelope	"Insufficient permissions"
//	@Failure		404	{object}	authsdk.Envelope	"User not found"
//	@Router			/api/v1/users/{id} [get].
func (h *UsersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	u, err := h.UserService.GetUserByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, userResponse(u.Profile()))
}

// HandleUpdateAccess changes role, department and permissions.
//
//	@Summary		Update user access
//	@Description	Rewrites role, department and permissions and revokes the user's sessions.
//	@Tags			Users
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string						true	"User ID"
//	@Param			request	body		authsdk.UpdateAccessRequest	true	"New access"
//	@Success		200		{object}	authsdk.Envelope{data=authsdk.User}
//	@Failure		400		{object}	authsdk.Envelope	"Validation failed"
//	@Failure		403		{object}	authsdk.Envelope	"Insufficient permissions"
//	@Failure		404		{object}	authsdk.Envelope	"User not found"
//	@Router			/api/v1/users/{id}/access [patch].
func (h *UsersHandler) HandleUpdateAccess(w http.ResponseWriter, r *http.Request) {
	var req authsdk.UpdateAccessRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}

	u, err := h.UserService.UpdateAccess(r.Context(), mustPrincipal(r), r.PathValue("id"), service.AccessInput{
		Role:        domain.Role(req.Role),
		Department:  domain.Department(req.Department),
		Permissions: req.Permissions,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, userResponse(u.Profile()))
}

// HandleUpdateStatus activates or deactivates a user.
//
//	@Summary		Update user status
//	@Description	Deactivation revokes every session and refresh token of the user.
//	@Tags			Users
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string						true	"User ID"
//	@Param			request	body		authsdk.UpdateStatusRequest	true	"New status"
//	@Success		200		{object}	authsdk.Envelope{data=authsdk.User}
//	@Failure		400		{object}	authsdk.Envelope	"Validation failed or self-deactivation"
//	@Failure		403		{object}	authsdk.Envelope	"Insufficient permissions"
//	@Failure		404		{object}	authsdk.Envelope	"User not found"
//	@Router			/api/v1/users/{id}/status [patch].
func (h *UsersHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req authsdk.UpdateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}

	u, err := h.UserService.SetStatus(r.Context(), mustPrincipal(r), r.PathValue("id"), *req.Active)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, userResponse(u.Profile()))
}

// HandleDelete soft-deletes a user.
//
//	@Summary		Delete a user
//	@Description	Tombstones the user and revokes every session and refresh token.
//	@Tags			Users
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"User ID"
//	@Success		200	{object}	authsdk.Envelope
//	@Failure		400	{object}	authsdk.Envelope	"Self-deletion"
//	@Failure		403	{object}	authsdk.Envelope	"Insufficient permissions"
//	@Failure		404	{object}	authsdk.Envelope	"User not found"
//	@Router			/api/v1/users/{id} [delete].
func (h *UsersHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.UserService.DeleteUser(r.Context(), mustPrincipal(r), r.PathValue("id")); err != nil {
		h.errs.write(w, r, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "User deleted")
}

// HandleListCompany lists the users of a company.
//
//	@Summary		List company users
//	@Tags			Users
//	@Produce		json
//	@Security		BearerAuth
//	@Param			companyId	path		string	true	"Company ID"
//	@Success		200			{object}	authsdk.Envelope{data=[]authsdk.User}
//	@Failure		403			{object}	authsdk.Envelope	"Insufficient permissions"
//	@Router			/api/v1/companies/{companyId}/users [get].
func (h *UsersHandler) HandleListCompany(w http.ResponseWriter, r *http.Request) {
	users, err := h.UserService.ListCompanyUsers(r.Context(), r.PathValue("companyId"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	out := make([]authsdk.User, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse(u.Profile()))
	}
	httpx.WriteData(w, http.StatusOK, out)
}
