package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/session"
	"github.com/aussiebroadwan/erp/internal/auth/store"
	"github.com/aussiebroadwan/erp/pkg/authsdk"
	"github.com/aussiebroadwan/erp/pkg/httpx"
)

// ReadyzHandler godoc
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness probe endpoint returning service health status and checks for critical dependencies
//	@Description	Includes uptime, version, and status of the database and the session store
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.Envelope{data=authsdk.HealthResponse}	"status, uptime, version, checks"
//	@Failure		503	{object}	authsdk.Envelope{data=authsdk.HealthResponse}	"status, uptime, version, checks - service not ready"
//	@Router			/readyz [get].
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	sessions session.Store,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &authsdk.HealthChecks{
			Database: "ok",
			Sessions: "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if err := sessions.Ping(r.Context()); err != nil {
			checks.Sessions = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := authsdk.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		}
		// Report the body as data even when degraded so probes can read it.
		httpx.WriteJSON(w, statusCode, httpx.Envelope{Success: statusCode == http.StatusOK, Data: response})
	}
}
