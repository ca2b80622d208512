package security

import (
	"errors"
	"unicode"
)

// ErrWeakPassword is returned by password policies
var ErrWeakPassword = errors.New("password is too weak")

// Usage tells a PasswordProtection what a password is needed for
type Usage int

const (
	// UsageRead is for decrypting or verifying
	UsageRead Usage = iota
	// UsageWrite is for encrypting or signing
	UsageWrite
)

// PasswordProtection hands out a password for a given usage. Callers should
// wipe the returned slice after use.
type PasswordProtection interface {
	Password(usage Usage) ([]byte, error)
}

// Password is a static PasswordProtection
type Password string

// Password returns a fresh copy of the password
func (p Password) Password(Usage) ([]byte, error) {
	return []byte(p), nil
}

// PasswordPolicy rejects weak passwords
type PasswordPolicy interface {
	Check(password []byte) error
}

// MinimumPolicy requires at least eight characters with at least one letter
// and one digit
type MinimumPolicy struct{}

// Check implements PasswordPolicy
func (MinimumPolicy) Check(password []byte) error {
	runes := []rune(string(password))
	if len(runes) < 8 {
		return ErrWeakPassword
	}
	var letter, digit bool
	for _, r := range runes {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return ErrWeakPassword
	}
	return nil
}

// CheckedProtection applies a policy to every password handed out for
// writing. Reading never fails on policy grounds so that keys created under
// an older policy stay readable.
type CheckedProtection struct {
	Policy     PasswordPolicy
	Protection PasswordProtection
}

// Password implements PasswordProtection
func (c CheckedProtection) Password(usage Usage) ([]byte, error) {
	pw, err := c.Protection.Password(usage)
	if err != nil {
		return nil, err
	}
	if usage == UsageWrite && c.Policy != nil {
		if err := c.Policy.Check(pw); err != nil {
			Wipe(pw)
			return nil, err
		}
	}
	return pw, nil
}

// Wipe zeroes b
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
