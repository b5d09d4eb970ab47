package http

import (
	"net/http"

	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/pkg/httpx"
)

// ModuleHandler stands in for an ERP department module that lives outside
// this service. It answers 501 once the caller has passed the guards.
type ModuleHandler struct {
	Department domain.Department
}

// ServeHTTP godoc
//
//	@Summary		Department module
//	@Description	Placeholder for a department module. Requires membership of the department (or management) and its read permission.
//	@Tags			Modules
//	@Produce		json
//	@Security		BearerAuth
//	@Param			module	path		string	true	"finance, hr, engineering, manufacturing or control"
//	@Failure		401		{object}	authsdk.Envelope	"Authentication required"
//	@Failure		403		{object}	authsdk.Envelope	"Insufficient permissions"
//	@Failure		501		{object}	authsdk.Envelope	"Module not implemented"
//	@Router			/api/v1/{module} [get].
func (h *ModuleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED",
		"The "+string(h.Department)+" module is not available yet", nil)
}
