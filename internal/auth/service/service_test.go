package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/audit"
	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/internal/auth/session"
	"github.com/aussiebroadwan/erp/internal/auth/store"
	"github.com/aussiebroadwan/erp/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/erp/pkg/cryptox"
	"github.com/aussiebroadwan/erp/pkg/idx"
	"github.com/aussiebroadwan/erp/pkg/jwtx"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Abc12345!"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captured struct {
	user  domain.User
	token string
}

type captureNotifier struct {
	mu            sync.Mutex
	resets        []captured
	verifications []captured
}

func (n *captureNotifier) PasswordReset(_ context.Context, u domain.User, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, captured{u, token})
	return nil
}

func (n *captureNotifier) EmailVerification(_ context.Context, u domain.User, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifications = append(n.verifications, captured{u, token})
	return nil
}

func (n *captureNotifier) lastReset(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.resets)
	return n.resets[len(n.resets)-1].token
}

func (n *captureNotifier) lastVerification(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.verifications)
	return n.verifications[len(n.verifications)-1].token
}

type harness struct {
	st       store.Store
	sessions *session.MemoryStore
	audit    *audit.Recorder
	notifier *captureNotifier
	clock    *clock
	tokens   *TokenService
	auth     *AuthService
	users    *UserService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	clk := &clock{now: time.Now().UTC().Truncate(time.Second)}
	signer, err := jwtx.NewHS256([]byte("0123456789abcdef0123456789abcdef"), jwtx.VerifyOptions{
		Issuer: "erp-test",
		Now:    clk.Now,
	})
	require.NoError(t, err)

	h := &harness{
		st:       st,
		sessions: session.NewMemoryStore(),
		audit:    &audit.Recorder{},
		notifier: &captureNotifier{},
		clock:    clk,
	}
	h.tokens = &TokenService{
		Signer: signer,
		Store:  st,
		Issuer: "erp-test",
		Now:    clk.Now,
	}
	h.auth = &AuthService{
		Store:      st,
		Tokens:     h.tokens,
		Sessions:   h.sessions,
		Notifier:   h.notifier,
		Audit:      h.audit,
		BcryptCost: bcrypt.MinCost,
		Now:        clk.Now,
	}
	h.users = &UserService{
		Store:      st,
		Sessions:   h.sessions,
		Audit:      h.audit,
		BcryptCost: bcrypt.MinCost,
		Now:        clk.Now,
	}
	return h
}

// seed stores a user with testPassword directly, bypassing registration.
func (h *harness) seed(t *testing.T, email string, role domain.Role, dept domain.Department) domain.User {
	t.Helper()
	hash, err := cryptox.HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)
	u := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
		Department:   dept,
		CompanyID:    "acme",
		Permissions:  domain.DefaultPermissions(role, dept),
		Active:       true,
	}
	require.NoError(t, h.st.Users().CreateUser(context.Background(), u))
	return u
}

func (h *harness) login(t *testing.T, email string) *LoginResult {
	t.Helper()
	res, err := h.auth.Login(context.Background(), LoginInput{Email: email, Password: testPassword})
	require.NoError(t, err)
	return res
}

func TestPasswordPolicy(t *testing.T) {
	t.Parallel()
	p := PasswordPolicy{}

	tests := []struct {
		name   string
		pw     string
		errors int
	}{
		{"valid", "Abc12345!", 0},
		{"too short", "Ab1!", 1},
		{"no upper", "abc12345!", 1},
		{"no lower", "ABC12345!", 1},
		{"no digit", "Abcdefgh!", 1},
		{"no symbol", "Abc123456", 1},
		{"empty", "", 5},
		{"backslash counts as symbol", `Abc12345\`, 0},
		{"unlisted punctuation", "Abc12345€", 1},
		{"longer than bcrypt accepts", "Abc1!" + strings.Repeat("x", 68), 1},
		{"exactly bcrypt limit", "Abc1!" + strings.Repeat("x", 67), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Validate(tt.pw)
			require.Len(t, res.Errors, tt.errors)
			require.Equal(t, tt.errors == 0, res.Valid)
		})
	}

	require.Len(t, PasswordPolicy{MinLength: 12}.Validate("Abc12345!").Errors, 1)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	u := h.seed(t, "round@trip.io", domain.RoleManager, domain.DeptFinance)

	tok, ttl, err := h.tokens.IssueAccessToken(u, "sid-1", false)
	require.NoError(t, err)
	require.Equal(t, jwtx.DefaultAccessTokenTTL, ttl)

	claims, err := h.tokens.VerifyAccessToken(tok)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.Subject)
	require.Equal(t, u.Email, claims.Email)
	require.Equal(t, string(u.Role), claims.Role)
	require.Equal(t, string(u.Department), claims.Department)
	require.Equal(t, u.CompanyID, claims.CompanyID)
	require.Equal(t, u.Permissions, claims.Permissions)
	require.Equal(t, "sid-1", claims.SID)

	_, ttl, err = h.tokens.IssueAccessToken(u, "sid-1", true)
	require.NoError(t, err)
	require.Equal(t, jwtx.DefaultRememberMeAccessTTL, ttl)

	h.clock.Advance(ttl + time.Second)
	_, err = h.tokens.VerifyAccessToken(tok)
	require.ErrorIs(t, err, domain.ErrTokenExpired)

	_, err = h.tokens.VerifyAccessToken("not-a-jwt")
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
	_, err = h.tokens.VerifyAccessToken("")
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestRegisterThenLogin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	u, err := h.auth.Register(ctx, RegisterInput{
		Email:      "  A@B.com ",
		Password:   testPassword,
		FirstName:  "Ada",
		LastName:   "Byron",
		Department: domain.DeptEngineering,
	})
	require.NoError(t, err)
	require.Equal(t, "a@b.com", u.Email)
	require.Equal(t, domain.RoleEmployee, u.Role)
	require.Equal(t, domain.DefaultPermissions(domain.RoleEmployee, domain.DeptEngineering), u.Permissions)
	require.Len(t, h.notifier.verifications, 1)

	_, err = h.auth.Register(ctx, RegisterInput{Email: "a@b.com", Password: testPassword, Department: domain.DeptHR})
	require.ErrorIs(t, err, domain.ErrEmailTaken)

	res, err := h.auth.Login(ctx, LoginInput{Email: "a@b.com", Password: testPassword})
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
	require.NotEmpty(t, res.RefreshToken)
	require.NotEmpty(t, res.SessionID)
	require.Equal(t, int64(jwtx.DefaultAccessTokenTTL/time.Second), res.ExpiresIn)

	claims, err := h.tokens.VerifyAccessToken(res.Token)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.Subject)
	require.Equal(t, res.SessionID, claims.SID)

	stored, err := h.st.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)

	sess, err := h.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	require.Equal(t, u.ID, sess.UserID)

	_, err = h.auth.Login(ctx, LoginInput{Email: "a@b.com", Password: "wrong"})
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	require.Len(t, h.audit.Find(audit.LoginSucceeded), 1)
	failed := h.audit.Find(audit.LoginFailed)
	require.Len(t, failed, 1)
	require.Equal(t, "invalid_password", failed[0].Reason)
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.auth.Register(context.Background(), RegisterInput{
		Email: "weak@pw.io", Password: "password", Department: domain.DeptHR,
	})
	require.ErrorIs(t, err, domain.ErrWeakPassword)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	details, ok := de.Details.(map[string]any)
	require.True(t, ok)
	require.Len(t, details["errors"], 3)
}

func TestOverlongPasswordIsWeak(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	long := "Abc1!" + strings.Repeat("x", 75)

	_, err := h.auth.Register(ctx, RegisterInput{Email: "long@pw.io", Password: long, Department: domain.DeptHR})
	require.ErrorIs(t, err, domain.ErrWeakPassword)

	u := h.seed(t, "long2@pw.io", domain.RoleEmployee, domain.DeptHR)
	res := h.login(t, "long2@pw.io")
	_, err = h.auth.ChangePassword(ctx, domain.PrincipalFromUser(u, res.SessionID), testPassword, long)
	require.ErrorIs(t, err, domain.ErrWeakPassword)

	require.NoError(t, h.auth.ForgotPassword(ctx, "long2@pw.io"))
	require.ErrorIs(t, h.auth.ResetPassword(ctx, h.notifier.lastReset(t), long), domain.ErrWeakPassword)
}

func TestLoginRehashesOnCostChange(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.seed(t, "cost@x.io", domain.RoleEmployee, domain.DeptHR)

	h.login(t, "cost@x.io")
	stored, err := h.st.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.PasswordHash, stored.PasswordHash, "same cost keeps the hash")

	h.auth.BcryptCost = bcrypt.MinCost + 1
	h.login(t, "cost@x.io")
	stored, err = h.st.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	cost, err := cryptox.HashCost(stored.PasswordHash)
	require.NoError(t, err)
	require.Equal(t, bcrypt.MinCost+1, cost)

	h.login(t, "cost@x.io")
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.seed(t, "live@x.io", domain.RoleEmployee, domain.DeptHR)
	inactive := h.seed(t, "inactive@x.io", domain.RoleEmployee, domain.DeptHR)
	require.NoError(t, h.st.Users().SetActive(ctx, inactive.ID, false))
	deleted := h.seed(t, "deleted@x.io", domain.RoleEmployee, domain.DeptHR)
	require.NoError(t, h.st.Users().SoftDeleteUser(ctx, deleted.ID, time.Now()))

	cases := []LoginInput{
		{Email: "live@x.io", Password: "Wrong123!"},
		{Email: "nobody@x.io", Password: testPassword},
		{Email: "inactive@x.io", Password: testPassword},
		{Email: "deleted@x.io", Password: testPassword},
	}
	var messages []string
	for _, in := range cases {
		_, err := h.auth.Login(ctx, in)
		require.ErrorIs(t, err, domain.ErrInvalidCredentials)
		messages = append(messages, err.Error())
	}
	for _, m := range messages[1:] {
		require.Equal(t, messages[0], m)
	}

	var reasons []string
	for _, e := range h.audit.Find(audit.LoginFailed) {
		reasons = append(reasons, e.Reason)
	}
	require.Equal(t, []string{"invalid_password", "unknown_email", "account_inactive", "unknown_email"}, reasons)
}

func TestRefreshRotation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.seed(t, "rot@x.io", domain.RoleEmployee, domain.DeptFinance)
	res := h.login(t, "rot@x.io")

	pair, err := h.auth.Refresh(ctx, res.RefreshToken, session.Device{})
	require.NoError(t, err)
	require.NotEqual(t, res.RefreshToken, pair.RefreshToken)
	require.Equal(t, res.SessionID, pair.SessionID)

	_, err = h.auth.Refresh(ctx, res.RefreshToken, session.Device{})
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	// Access changes show up in the next rotation.
	require.NoError(t, h.st.Users().UpdateAccess(ctx, u.ID, domain.RoleManager, domain.DeptFinance,
		domain.DefaultPermissions(domain.RoleManager, domain.DeptFinance)))
	pair2, err := h.auth.Refresh(ctx, pair.RefreshToken, session.Device{})
	require.NoError(t, err)
	claims, err := h.tokens.VerifyAccessToken(pair2.AccessToken)
	require.NoError(t, err)
	require.Equal(t, string(domain.RoleManager), claims.Role)

	sess, err := h.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.RoleManager, sess.Role)

	require.Len(t, h.audit.Find(audit.TokenRefreshed), 2)
	require.Len(t, h.audit.Find(audit.TokenRefreshFailed), 1)
}

func TestRefreshConcurrentRotationHasOneWinner(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "race@x.io", domain.RoleEmployee, domain.DeptHR)
	res := h.login(t, "race@x.io")

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.tokens.RotateRefreshToken(context.Background(), res.RefreshToken); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestRefreshRejectsExpiredAndInactive(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.seed(t, "exp@x.io", domain.RoleEmployee, domain.DeptHR)

	res := h.login(t, "exp@x.io")
	h.clock.Advance(jwtx.DefaultRefreshTokenTTL + time.Minute)
	_, err := h.auth.Refresh(ctx, res.RefreshToken, session.Device{})
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	// The expired record is gone, not just rejected.
	_, err = h.st.RefreshTokens().ClaimRefreshToken(ctx, cryptox.FingerprintToken(res.RefreshToken))
	require.ErrorIs(t, err, store.ErrNotFound)

	res = h.login(t, "exp@x.io")
	require.NoError(t, h.st.Users().SetActive(ctx, u.ID, false))
	_, err = h.auth.Refresh(ctx, res.RefreshToken, session.Device{})
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	_, err = h.auth.Refresh(ctx, "", session.Device{})
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)
}

func TestLogoutIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "bye@x.io", domain.RoleEmployee, domain.DeptHR)
	res := h.login(t, "bye@x.io")

	in := LogoutInput{RefreshToken: res.RefreshToken, SessionID: res.SessionID}
	require.NoError(t, h.auth.Logout(ctx, in, nil))
	require.NoError(t, h.auth.Logout(ctx, in, nil))

	_, err := h.sessions.Get(ctx, res.SessionID)
	require.ErrorIs(t, err, session.ErrNotFound)
	_, err = h.auth.Refresh(ctx, res.RefreshToken, session.Device{})
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	require.NoError(t, h.auth.Logout(ctx, LogoutInput{}, nil))
}

func TestLogoutBySessionRevokesItsRefreshTokens(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.seed(t, "sid@x.io", domain.RoleEmployee, domain.DeptHR)
	first := h.login(t, "sid@x.io")
	second := h.login(t, "sid@x.io")

	p := domain.PrincipalFromUser(u, first.SessionID)
	require.NoError(t, h.auth.Logout(ctx, LogoutInput{}, &p))

	_, err := h.auth.Refresh(ctx, first.RefreshToken, session.Device{})
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)
	_, err = h.auth.Refresh(ctx, second.RefreshToken, session.Device{})
	require.NoError(t, err)
}

func TestSessionsListAndRevoke(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.seed(t, "multi@x.io", domain.RoleEmployee, domain.DeptHR)
	h.seed(t, "other@x.io", domain.RoleEmployee, domain.DeptHR)
	a := h.login(t, "multi@x.io")
	h.login(t, "multi@x.io")
	foreign := h.login(t, "other@x.io")

	p := domain.PrincipalFromUser(u, a.SessionID)
	live, err := h.auth.ListSessions(ctx, p)
	require.NoError(t, err)
	require.Len(t, live, 2)

	require.ErrorIs(t, h.auth.RevokeSession(ctx, p, foreign.SessionID), domain.ErrSessionNotFound)
	_, err = h.sessions.Get(ctx, foreign.SessionID)
	require.NoError(t, err, "another user's session must survive")

	require.NoError(t, h.auth.RevokeSession(ctx, p, a.SessionID))
	live, err = h.auth.ListSessions(ctx, p)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.ErrorIs(t, h.auth.RevokeSession(ctx, p, a.SessionID), domain.ErrSessionNotFound)
}

func TestResetPassword(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.seed(t, "reset@x.io", domain.RoleEmployee, domain.DeptHR)
	before := h.login(t, "reset@x.io")

	require.NoError(t, h.auth.ForgotPassword(ctx, "RESET@x.io"))
	token := h.notifier.lastReset(t)

	err := h.auth.ResetPassword(ctx, token, "weak")
	require.ErrorIs(t, err, domain.ErrWeakPassword)

	require.NoError(t, h.auth.ResetPassword(ctx, token, "NewPass1!"))

	// Single use.
	err = h.auth.ResetPassword(ctx, token, "Another1!")
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)
	require.Equal(t, domain.KindAuthentication, domain.KindOf(err))

	// Every earlier refresh token and session is gone.
	_, err = h.auth.Refresh(ctx, before.RefreshToken, session.Device{})
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)
	live, err := h.sessions.ListUser(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, live)

	_, err = h.auth.Login(ctx, LoginInput{Email: "reset@x.io", Password: testPassword})
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = h.auth.Login(ctx, LoginInput{Email: "reset@x.io", Password: "NewPass1!"})
	require.NoError(t, err)

	require.Len(t, h.audit.Find(audit.PasswordReset), 1)
	require.Len(t, h.audit.Find(audit.PasswordResetFailed), 1)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "late@x.io", domain.RoleEmployee, domain.DeptHR)

	require.NoError(t, h.auth.ForgotPassword(ctx, "late@x.io"))
	token := h.notifier.lastReset(t)

	h.clock.Advance(DefaultPasswordResetTTL)
	require.ErrorIs(t, h.auth.ResetPassword(ctx, token, "NewPass1!"), domain.ErrInvalidOrExpiredToken)

	_, err := h.st.PasswordResetTokens().ConsumeToken(ctx, cryptox.FingerprintToken(token))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestForgotPasswordIsUniform(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	inactive := h.seed(t, "off@x.io", domain.RoleEmployee, domain.DeptHR)
	require.NoError(t, h.st.Users().SetActive(ctx, inactive.ID, false))

	require.NoError(t, h.auth.ForgotPassword(ctx, "missing@x.io"))
	require.NoError(t, h.auth.ForgotPassword(ctx, "off@x.io"))
	require.Empty(t, h.notifier.resets)

	// A second request replaces the first token.
	h.seed(t, "twice@x.io", domain.RoleEmployee, domain.DeptHR)
	require.NoError(t, h.auth.ForgotPassword(ctx, "twice@x.io"))
	first := h.notifier.lastReset(t)
	require.NoError(t, h.auth.ForgotPassword(ctx, "twice@x.io"))
	require.ErrorIs(t, h.auth.ResetPassword(ctx, first, "NewPass1!"), domain.ErrInvalidOrExpiredToken)
	require.NoError(t, h.auth.ResetPassword(ctx, h.notifier.lastReset(t), "NewPass1!"))
}

func TestChangePassword(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.seed(t, "change@x.io", domain.RoleEmployee, domain.DeptHR)
	current := h.login(t, "change@x.io")
	other := h.login(t, "change@x.io")
	p := domain.PrincipalFromUser(u, current.SessionID)

	t.Run("wrong current password leaves hash untouched", func(t *testing.T) {
		_, err := h.auth.ChangePassword(ctx, p, "Wrong123!", "NewPass1!")
		require.ErrorIs(t, err, domain.ErrInvalidCurrentPassword)
		require.Equal(t, domain.KindValidation, domain.KindOf(err))

		stored, err := h.st.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.Equal(t, u.PasswordHash, stored.PasswordHash)
	})

	t.Run("same password is rejected", func(t *testing.T) {
		_, err := h.auth.ChangePassword(ctx, p, testPassword, testPassword)
		require.ErrorIs(t, err, domain.ErrPasswordReused)
	})

	t.Run("weak password is rejected", func(t *testing.T) {
		_, err := h.auth.ChangePassword(ctx, p, testPassword, "short")
		require.ErrorIs(t, err, domain.ErrWeakPassword)
	})

	t.Run("success revokes everything but the current session", func(t *testing.T) {
		pair, err := h.auth.ChangePassword(ctx, p, testPassword, "NewPass1!")
		require.NoError(t, err)
		require.NotNil(t, pair)
		require.Equal(t, current.SessionID, pair.SessionID)

		_, err = h.auth.Refresh(ctx, current.RefreshToken, session.Device{})
		require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)
		_, err = h.auth.Refresh(ctx, other.RefreshToken, session.Device{})
		require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

		_, err = h.sessions.Get(ctx, other.SessionID)
		require.ErrorIs(t, err, session.ErrNotFound)
		_, err = h.sessions.Get(ctx, current.SessionID)
		require.NoError(t, err)

		_, err = h.auth.Refresh(ctx, pair.RefreshToken, session.Device{})
		require.NoError(t, err)
	})
}

func TestVerifyEmail(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	u, err := h.auth.Register(ctx, RegisterInput{Email: "v@x.io", Password: testPassword, Department: domain.DeptControl})
	require.NoError(t, err)
	require.False(t, u.EmailVerified)

	// Resend replaces the registration token.
	first := h.notifier.lastVerification(t)
	require.NoError(t, h.auth.ResendVerification(ctx, "v@x.io"))
	second := h.notifier.lastVerification(t)
	require.NotEqual(t, first, second)
	require.ErrorIs(t, h.auth.VerifyEmail(ctx, first), domain.ErrInvalidOrExpiredToken)

	require.NoError(t, h.auth.VerifyEmail(ctx, second))
	require.ErrorIs(t, h.auth.VerifyEmail(ctx, second), domain.ErrInvalidOrExpiredToken)

	stored, err := h.st.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, stored.EmailVerified)

	// Verified and unknown accounts get the same answer and no token.
	count := len(h.notifier.verifications)
	require.NoError(t, h.auth.ResendVerification(ctx, "v@x.io"))
	require.NoError(t, h.auth.ResendVerification(ctx, "ghost@x.io"))
	require.Len(t, h.notifier.verifications, count)
}

func TestVerifyEmailExpiredToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	u, err := h.auth.Register(ctx, RegisterInput{Email: "slow@x.io", Password: testPassword, Department: domain.DeptHR})
	require.NoError(t, err)
	token := h.notifier.lastVerification(t)

	h.clock.Advance(DefaultEmailVerificationTTL)
	require.ErrorIs(t, h.auth.VerifyEmail(ctx, token), domain.ErrInvalidOrExpiredToken)

	stored, err := h.st.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, stored.EmailVerified)

	// A fresh token still works.
	require.NoError(t, h.auth.ResendVerification(ctx, "slow@x.io"))
	require.NoError(t, h.auth.VerifyEmail(ctx, h.notifier.lastVerification(t)))
}

func TestUserAdministration(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	root := domain.PrincipalFromUser(h.seed(t, "root@x.io", domain.RoleSuperAdmin, domain.DeptManagement), "")
	admin := domain.PrincipalFromUser(h.seed(t, "admin@x.io", domain.RoleAdmin, domain.DeptManagement), "")

	in := CreateUserInput{
		Email: "new@x.io", Password: testPassword,
		Role: domain.RoleAdmin, Department: domain.DeptFinance,
	}

	t.Run("only super admins mint admins", func(t *testing.T) {
		_, err := h.users.CreateUser(ctx, admin, in)
		require.ErrorIs(t, err, domain.ErrForbidden)

		u, err := h.users.CreateUser(ctx, root, in)
		require.NoError(t, err)
		require.Equal(t, domain.DefaultPermissions(domain.RoleAdmin, domain.DeptFinance), u.Permissions)

		_, err = h.users.CreateUser(ctx, root, in)
		require.ErrorIs(t, err, domain.ErrEmailTaken)
	})

	emp, err := h.users.CreateUser(ctx, admin, CreateUserInput{
		Email: "emp@x.io", Password: testPassword,
		Role: domain.RoleEmployee, Department: domain.DeptHR,
		Permissions: []string{"custom:read"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"custom:read"}, emp.Permissions)

	t.Run("update access revokes sessions", func(t *testing.T) {
		res := h.login(t, "emp@x.io")
		u, err := h.users.UpdateAccess(ctx, admin, emp.ID, AccessInput{Role: domain.RoleManager, Department: domain.DeptHR})
		require.NoError(t, err)
		require.Equal(t, domain.RoleManager, u.Role)

		_, err = h.sessions.Get(ctx, res.SessionID)
		require.ErrorIs(t, err, session.ErrNotFound)

		_, err = h.users.UpdateAccess(ctx, admin, emp.ID, AccessInput{Role: domain.RoleSuperAdmin, Department: domain.DeptHR})
		require.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("deactivation revokes refresh tokens", func(t *testing.T) {
		res := h.login(t, "emp@x.io")
		u, err := h.users.SetStatus(ctx, admin, emp.ID, false)
		require.NoError(t, err)
		require.False(t, u.Active)

		_, err = h.auth.Refresh(ctx, res.RefreshToken, session.Device{})
		require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

		_, err = h.users.SetStatus(ctx, admin, emp.ID, true)
		require.NoError(t, err)
		h.login(t, "emp@x.io")

		_, err = h.users.SetStatus(ctx, admin, admin.UserID, false)
		require.Error(t, err)
		require.Equal(t, domain.KindValidation, domain.KindOf(err))
	})

	t.Run("soft delete hides the user", func(t *testing.T) {
		require.Equal(t, domain.KindValidation, domain.KindOf(h.users.DeleteUser(ctx, admin, admin.UserID)))
		require.ErrorIs(t, h.users.DeleteUser(ctx, admin, root.UserID), domain.ErrForbidden)

		require.NoError(t, h.users.DeleteUser(ctx, admin, emp.ID))
		_, err := h.users.GetUserByID(ctx, emp.ID)
		require.ErrorIs(t, err, domain.ErrUserNotFound)
		require.ErrorIs(t, h.users.DeleteUser(ctx, admin, emp.ID), domain.ErrUserNotFound)
	})

	users, err := h.users.ListCompanyUsers(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, users, 2)
}

func TestHousekeepingCleanup(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "hk@x.io", domain.RoleEmployee, domain.DeptHR)
	h.login(t, "hk@x.io")
	require.NoError(t, h.auth.ForgotPassword(ctx, "hk@x.io"))

	hk := NewHousekeepingService(h.st, nil, time.Minute)
	hk.Now = h.clock.Now
	require.Zero(t, hk.Cleanup(ctx))

	h.clock.Advance(jwtx.DefaultRefreshTokenTTL + time.Hour)
	require.EqualValues(t, 2, hk.Cleanup(ctx))
}

func TestBootstrap(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	in := BootstrapInput{Email: "Root@ERP.io", Password: testPassword}

	disabled := &BootstrapService{Store: h.st, BcryptCost: bcrypt.MinCost}
	_, err := disabled.Bootstrap(ctx, "anything", in)
	require.ErrorIs(t, err, ErrBootstrapDisabled)

	b := &BootstrapService{Store: h.st, Token: "s3cret", BcryptCost: bcrypt.MinCost}
	_, err = b.Bootstrap(ctx, "wrong", in)
	require.ErrorIs(t, err, ErrBootstrapUnauthorized)

	done, err := b.IsBootstrapped(ctx)
	require.NoError(t, err)
	require.False(t, done)

	u, err := b.Bootstrap(ctx, "s3cret", in)
	require.NoError(t, err)
	require.Equal(t, "root@erp.io", u.Email)
	require.Equal(t, domain.RoleSuperAdmin, u.Role)
	require.Equal(t, []string{domain.PermissionAll}, u.Permissions)

	_, err = b.Bootstrap(ctx, "s3cret", in)
	require.ErrorIs(t, err, ErrBootstrapAlready)

	res := h.login(t, "root@erp.io")
	claims, err := h.tokens.VerifyAccessToken(res.Token)
	require.NoError(t, err)
	require.Equal(t, string(domain.RoleSuperAdmin), claims.Role)
}
