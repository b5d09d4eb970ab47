package auth_test

import (
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/erp/internal/auth/app"
	"github.com/aussiebroadwan/erp/pkg/authsdk"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

/*
 * Common constants and helper functions for auth service end-to-end tests.
 * Each test runs the fully wired application in-process behind an
 * httptest server and talks to it through the SDK.
 */

const (
	bootstrapToken = "test-bootstrap-token-12345"
	adminEmail     = "admin@erp.test"
	adminPassword  = "Admin123!"
	userPassword   = "Abc12345!"
	companyID      = "acme"
)

// testConfig is the base configuration for a test instance: in-memory
// SQLite, cheap bcrypt and generous rate limits.
func testConfig() app.Config {
	cfg := app.DefaultConfig()
	cfg.JWTSecret = "e2e-secret-e2e-secret-e2e-secret!"
	cfg.DatabaseURL = ":memory:"
	cfg.BcryptCost = bcrypt.MinCost
	cfg.RateLimitMaxAttempts = 1000
	cfg.Env = "test"
	cfg.LogLevel = "error"
	cfg.BootstrapToken = bootstrapToken
	return cfg
}

// startService boots the application with cfg and returns an SDK client
// pointed at it. Everything is torn down with the test.
func startService(t *testing.T, cfg app.Config) *authsdk.SDKClient {
	t.Helper()
	require.NoError(t, cfg.Validate())

	application, err := app.New(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = application.Shutdown()
	})

	return authsdk.NewSDKClient(srv.URL)
}

// bootstrapAdmin creates the first super admin and logs them in.
func bootstrapAdmin(t *testing.T, client *authsdk.SDKClient) *authsdk.Session {
	t.Helper()

	admin, err := client.Bootstrap(t.Context(), bootstrapToken, authsdk.BootstrapRequest{
		Email:     adminEmail,
		Password:  adminPassword,
		FirstName: "Ada",
		LastName:  "Admin",
		CompanyID: companyID,
	})
	require.NoError(t, err)
	require.Equal(t, "super_admin", admin.Role)

	return login(t, client, adminEmail, adminPassword)
}

// registerUser self-registers an employee of dept and logs them in.
func registerUser(t *testing.T, client *authsdk.SDKClient, email, dept string) *authsdk.Session {
	t.Helper()

	u, err := client.Register(t.Context(), authsdk.RegisterRequest{
		Email:      email,
		Password:   userPassword,
		FirstName:  "Test",
		LastName:   "User",
		Department: dept,
		CompanyID:  companyID,
	})
	require.NoError(t, err)
	require.Equal(t, "employee", u.Role)

	return login(t, client, email, userPassword)
}

func login(t *testing.T, client *authsdk.SDKClient, email, password string) *authsdk.Session {
	t.Helper()
	s, err := client.Login(t.Context(), authsdk.LoginRequest{Email: email, Password: password})
	require.NoError(t, err)
	require.NotEmpty(t, s.AccessToken())
	require.NotEmpty(t, s.RefreshToken())
	require.NotEmpty(t, s.ID())
	return s
}

// requireAPIError asserts err is an *authsdk.APIError with status and code.
func requireAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err)
	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, status, apiErr.StatusCode, "unexpected status: %v", apiErr)
	require.Equal(t, code, apiErr.Code)
}
