package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/internal/auth/store"
	"github.com/aussiebroadwan/erp/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/erp/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newUser(email string) domain.User {
	return domain.User{
		ID:           idx.New().String(),
		Email:        email,
		PasswordHash: "$2a$04$hash",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Role:         domain.RoleEmployee,
		Department:   domain.DeptEngineering,
		CompanyID:    "acme",
		Permissions:  []string{"engineering:read"},
		Active:       true,
	}
}

func TestUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newStore(t)

	u := newUser("ada@example.com")
	require.NoError(t, st.Users().CreateUser(ctx, u))

	t.Run("get by id and email", func(t *testing.T) {
		got, err := st.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.Equal(t, u.Email, got.Email)
		require.Equal(t, domain.RoleEmployee, got.Role)
		require.Equal(t, []string{"engineering:read"}, got.Permissions)
		require.True(t, got.Active)
		require.False(t, got.EmailVerified)
		require.Nil(t, got.DeletedAt)

		got, err = st.Users().GetUserByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		require.Equal(t, u.ID, got.ID)
	})

	t.Run("duplicate email", func(t *testing.T) {
		err := st.Users().CreateUser(ctx, newUser("ada@example.com"))
		require.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := st.Users().GetUserByID(ctx, "nope")
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, st.Users().SetActive(ctx, "nope", false), store.ErrNotFound)
	})

	t.Run("mutations", func(t *testing.T) {
		require.NoError(t, st.Users().UpdatePasswordHash(ctx, u.ID, "$2a$04$other"))
		require.NoError(t, st.Users().UpdateAccess(ctx, u.ID, domain.RoleManager, domain.DeptFinance, []string{"finance:read"}))
		require.NoError(t, st.Users().MarkEmailVerified(ctx, u.ID))
		at := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, st.Users().TouchLastLogin(ctx, u.ID, at))

		got, err := st.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.Equal(t, "$2a$04$other", got.PasswordHash)
		require.Equal(t, domain.RoleManager, got.Role)
		require.Equal(t, domain.DeptFinance, got.Department)
		require.Equal(t, []string{"finance:read"}, got.Permissions)
		require.True(t, got.EmailVerified)
		require.NotNil(t, got.LastLoginAt)
		require.True(t, at.Equal(*got.LastLoginAt))
	})

	t.Run("list by company", func(t *testing.T) {
		other := newUser("grace@example.com")
		other.CompanyID = "globex"
		require.NoError(t, st.Users().CreateUser(ctx, other))

		users, err := st.Users().ListUsersByCompany(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, users, 1)
		require.Equal(t, u.ID, users[0].ID)
	})
}

func TestSoftDeleteHidesUserAndFreesEmail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newStore(t)

	u := newUser("gone@example.com")
	require.NoError(t, st.Users().CreateUser(ctx, u))
	require.NoError(t, st.Users().SoftDeleteUser(ctx, u.ID, time.Now()))

	_, err := st.Users().GetUserByID(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Users().GetUserByEmail(ctx, u.Email)
	require.ErrorIs(t, err, store.ErrNotFound)

	// Deleting twice reports not found.
	require.ErrorIs(t, st.Users().SoftDeleteUser(ctx, u.ID, time.Now()), store.ErrNotFound)

	// Address may be registered again.
	require.NoError(t, st.Users().CreateUser(ctx, newUser("gone@example.com")))
}

func TestRefreshTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newStore(t)

	u := newUser("rt@example.com")
	require.NoError(t, st.Users().CreateUser(ctx, u))

	mk := func(hash, sid string, exp time.Time) domain.RefreshToken {
		return domain.RefreshToken{
			ID:        idx.New().String(),
			UserID:    u.ID,
			TokenHash: hash,
			SessionID: sid,
			ExpiresAt: exp,
		}
	}
	now := time.Now().UTC()
	require.NoError(t, st.RefreshTokens().CreateRefreshToken(ctx, mk("h1", "s1", now.Add(time.Hour))))
	require.NoError(t, st.RefreshTokens().CreateRefreshToken(ctx, mk("h2", "s1", now.Add(time.Hour))))
	require.NoError(t, st.RefreshTokens().CreateRefreshToken(ctx, mk("h3", "s2", now.Add(time.Hour))))
	require.NoError(t, st.RefreshTokens().CreateRefreshToken(ctx, mk("old", "s3", now.Add(-time.Hour))))

	t.Run("claim is single use", func(t *testing.T) {
		got, err := st.RefreshTokens().ClaimRefreshToken(ctx, "h1")
		require.NoError(t, err)
		require.Equal(t, "s1", got.SessionID)
		require.WithinDuration(t, now.Add(time.Hour), got.ExpiresAt, time.Second)

		_, err = st.RefreshTokens().ClaimRefreshToken(ctx, "h1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, st.RefreshTokens().DeleteRefreshToken(ctx, "h2"))
		require.NoError(t, st.RefreshTokens().DeleteRefreshToken(ctx, "h2"))
	})

	t.Run("expired cleanup", func(t *testing.T) {
		n, err := st.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
	})

	t.Run("user wide revoke", func(t *testing.T) {
		require.NoError(t, st.RefreshTokens().DeleteUserRefreshTokens(ctx, u.ID))
		_, err := st.RefreshTokens().ClaimRefreshToken(ctx, "h3")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestOneTimeTokensAreSeparateTables(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newStore(t)

	u := newUser("ott@example.com")
	require.NoError(t, st.Users().CreateUser(ctx, u))

	tok := domain.OneTimeToken{
		ID:        idx.New().String(),
		UserID:    u.ID,
		TokenHash: "reset-hash",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, st.PasswordResetTokens().CreateToken(ctx, tok))

	_, err := st.EmailVerificationTokens().ConsumeToken(ctx, "reset-hash")
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err := st.PasswordResetTokens().ConsumeToken(ctx, "reset-hash")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.UserID)

	_, err = st.PasswordResetTokens().ConsumeToken(ctx, "reset-hash")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTxRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newStore(t)

	u := newUser("tx@example.com")
	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.Users().CreateUser(ctx, u))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = st.Users().GetUserByID(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newStore(t)

	u := newUser("race@example.com")
	require.NoError(t, st.Users().CreateUser(ctx, u))
	require.NoError(t, st.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
		ID: idx.New().String(), UserID: u.ID, TokenHash: "race", SessionID: "s",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.WithTx(ctx, func(tx store.Tx) error {
				_, err := tx.RefreshTokens().ClaimRefreshToken(ctx, "race")
				return err
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestForeignKeyCascade(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newStore(t)

	err := st.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
		ID: idx.New().String(), UserID: "ghost", TokenHash: "x", SessionID: "s",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.Error(t, err)
}

func TestUsersIsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newStore(t)

	empty, err := st.Users().IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)

	u := newUser("first@example.com")
	require.NoError(t, st.Users().CreateUser(ctx, u))
	require.NoError(t, st.Users().SoftDeleteUser(ctx, u.ID, time.Now()))

	empty, err = st.Users().IsEmpty(ctx)
	require.NoError(t, err)
	require.False(t, empty, "tombstoned users still count")
}
