package cryptox

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used for subject passwords.
const DefaultCost = 12

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// ErrPasswordMismatch is returned when a password does not match its hash.
var ErrPasswordMismatch = errors.New("password does not match")

// dummyHash is compared against when there is no stored hash, so that the
// unknown-account path costs the same as a wrong password.
var (
	dummyOnce sync.Once
	dummyHash []byte
)

func getDummyHash() []byte {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), DefaultCost)
	})
	return dummyHash
}

// HashPassword returns a bcrypt hash of password at the given cost. A cost
// outside bcrypt's accepted range falls back to DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password against a bcrypt hash using
// bcrypt's constant-time comparison. An empty hash still performs a full
// comparison against a throwaway hash before failing.
func VerifyPassword(password, encodedHash string) error {
	if encodedHash == "" {
		_ = bcrypt.CompareHashAndPassword(getDummyHash(), []byte(password))
		return ErrPasswordMismatch
	}

	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrPasswordMismatch
	default:
		return fmt.Errorf("invalid hash format: %w", err)
	}
}

// HashCost reports the work factor encoded in a bcrypt hash.
func HashCost(encodedHash string) (int, error) {
	return bcrypt.Cost([]byte(encodedHash))
}

// NeedsRehash reports whether encodedHash was made with a different work
// factor than HashPassword would use for cost. Unreadable hashes report
// false; VerifyPassword already rejects them.
func NeedsRehash(encodedHash string, cost int) bool {
	have, err := HashCost(encodedHash)
	if err != nil {
		return false
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return have != cost
}
