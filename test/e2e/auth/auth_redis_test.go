package auth_test

import (
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/erp/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestRedisBackedSessions runs the service with sessions and rate limits in
// Redis, as it is deployed with more than one instance.
func TestRedisBackedSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	client := startService(t, cfg)
	ctx := t.Context()

	first := registerUser(t, client, "redis@example.com", "engineering")
	second := login(t, client, "redis@example.com", userPassword)

	require.True(t, mr.Exists("session:"+first.ID()))
	require.True(t, mr.Exists("session:"+second.ID()))

	sessions, err := first.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	require.NoError(t, second.Logout(ctx))
	require.False(t, mr.Exists("session:"+second.ID()))

	ready, err := client.GetReadiness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Status)
	require.Equal(t, "ok", ready.Checks.Sessions)
}

func TestRedisRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.RateLimitMaxAttempts = 3
	client := startService(t, cfg)
	ctx := t.Context()

	bad := authsdk.LoginRequest{Email: "nobody@example.com", Password: "Wrong123!"}
	for range 3 {
		_, err := client.Login(ctx, bad)
		requireAPIError(t, err, http.StatusUnauthorized, authsdk.CodeInvalidCredentials)
	}

	_, err := client.Login(ctx, bad)
	requireAPIError(t, err, http.StatusTooManyRequests, authsdk.CodeRateLimited)

	// Scopes are counted separately
	_, err = client.ForgotPassword(ctx, "nobody@example.com")
	require.NoError(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	client := startService(t, testConfig())

	live, err := client.GetLiveness(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)
	require.NotEmpty(t, live.Version)

	ready, err := client.GetReadiness(t.Context())
	require.NoError(t, err)
	require.NotNil(t, ready.Checks)
	require.Equal(t, "ok", ready.Checks.Database)
}
