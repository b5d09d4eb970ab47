package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/pkg/httpx"
	"github.com/aussiebroadwan/erp/pkg/slogx"
)

// errorWriter maps service errors onto the response envelope. Internal
// errors are logged and hidden unless expose is set.
type errorWriter struct {
	expose bool
}

func (e errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	var derr *domain.Error
	if errors.As(err, &derr) {
		if derr.Kind == domain.KindAuthentication {
			httpx.SetBearerChallenge(w, derr.Message)
		}
		httpx.WriteError(w, derr.Kind.HTTPStatus(), derr.Code, derr.Message, derr.Details)
		return
	}

	var verr *httpx.ValidationError
	if errors.As(err, &verr) {
		httpx.WriteError(w, http.StatusBadRequest, domain.ErrValidation.Code, "Validation failed", verr.Fields)
		return
	}
	if errors.Is(err, httpx.ErrInvalidJSON) {
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", nil)
		return
	}

	slogx.FromContext(r.Context()).Error("request failed", slog.Any("error", err))
	var details any
	if e.expose {
		details = err.Error()
	}
	httpx.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", details)
}
