package cryptox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// Tests hash at MinCost to stay fast; production uses DefaultCost.
const testCost = bcrypt.MinCost

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"simple password", "Abc12345!"},
		{"complex password", "P@ssw0rd!#$%^&*()"},
		{"long password", strings.Repeat("a", 64)},
		{"unicode password", "пароль🔒密码"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password, testCost)
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(hash, "$2a$"), "hash should be bcrypt encoded")
			require.NoError(t, VerifyPassword(tt.password, hash))
		})
	}
}

func TestHashPassword_UsesRequestedCost(t *testing.T) {
	hash, err := HashPassword("Abc12345!", testCost)
	require.NoError(t, err)

	cost, err := HashCost(hash)
	require.NoError(t, err)
	require.Equal(t, testCost, cost)
}

func TestHashPassword_InvalidCostFallsBackToDefault(t *testing.T) {
	hash, err := HashPassword("Abc12345!", 99)
	require.NoError(t, err)

	cost, err := HashCost(hash)
	require.NoError(t, err)
	require.Equal(t, DefaultCost, cost)
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	hash1, err := HashPassword("samepassword", testCost)
	require.NoError(t, err)
	hash2, err := HashPassword("samepassword", testCost)
	require.NoError(t, err)

	require.NotEqual(t, hash1, hash2, "hashes should differ due to unique salts")
	require.NoError(t, VerifyPassword("samepassword", hash1))
	require.NoError(t, VerifyPassword("samepassword", hash2))
}

func TestVerifyPassword_WrongPassword(t *testing.T) {
	hash, err := HashPassword("correct-password", testCost)
	require.NoError(t, err)

	for _, wrong := range []string{"wrong-password", "Correct-Password", "correct-password ", ""} {
		err := VerifyPassword(wrong, hash)
		require.ErrorIs(t, err, ErrPasswordMismatch)
	}
}

func TestVerifyPassword_EmptyHash(t *testing.T) {
	require.ErrorIs(t, VerifyPassword("anything", ""), ErrPasswordMismatch)
}

func TestVerifyPassword_InvalidHashFormat(t *testing.T) {
	err := VerifyPassword("password", "$argon2id$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrPasswordMismatch)
}

func TestNeedsRehash(t *testing.T) {
	hash, err := HashPassword("Abc12345!", testCost)
	require.NoError(t, err)

	require.False(t, NeedsRehash(hash, testCost))
	require.True(t, NeedsRehash(hash, testCost+1))
	require.True(t, NeedsRehash(hash, 0), "out of range cost means DefaultCost")
	require.False(t, NeedsRehash("not-a-hash", testCost))
}
