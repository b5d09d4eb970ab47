package service

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/aussiebroadwan/erp/pkg/cryptox"
)

// PasswordSymbols is the punctuation set that satisfies the symbol rule.
const PasswordSymbols = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?`~"

// DefaultMinPasswordLength is used when PasswordPolicy.MinLength is unset.
const DefaultMinPasswordLength = 8

// PolicyResult lists every rule a password broke.
type PolicyResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// PasswordPolicy checks password strength on registration, reset and change.
type PasswordPolicy struct {
	MinLength int
}

// Validate applies every rule independently so the caller can report all
// violations at once.
func (p PasswordPolicy) Validate(pw string) PolicyResult {
	minLen := p.MinLength
	if minLen <= 0 {
		minLen = DefaultMinPasswordLength
	}

	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		}
	}

	var errs []string
	if len([]rune(pw)) < minLen {
		errs = append(errs, fmt.Sprintf("Password must be at least %d characters long", minLen))
	}
	if len(pw) > cryptox.MaxPasswordBytes {
		errs = append(errs, fmt.Sprintf("Password must be at most %d bytes long", cryptox.MaxPasswordBytes))
	}
	if !upper {
		errs = append(errs, "Password must contain at least one uppercase letter")
	}
	if !lower {
		errs = append(errs, "Password must contain at least one lowercase letter")
	}
	if !digit {
		errs = append(errs, "Password must contain at least one number")
	}
	if !symbol {
		errs = append(errs, "Password must contain at least one special character")
	}
	return PolicyResult{Valid: len(errs) == 0, Errors: errs}
}

// check returns domain.ErrWeakPassword carrying the violations, or nil.
func (p PasswordPolicy) check(pw string) error {
	res := p.Validate(pw)
	if res.Valid {
		return nil
	}
	return weakPassword(res.Errors)
}
