// Package identity implements the server password credential.
//
// The config value is either a plaintext password or a bcrypt hash; a value
// with a bcrypt prefix ($2a$, $2b$, $2y$) is treated as a hash, anything
// else as plaintext. The hash string carries its own salt, so one string
// suffices. Verification is constant-time in both forms.
package identity

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the cost parameter used when hashing new passwords.
const DefaultBcryptCost = 10

// ErrPasswordTooLong is returned when a password exceeds bcrypt's 72-byte
// input limit.
var ErrPasswordTooLong = errors.New("password must be at most 72 bytes")

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// Credential verifies client passwords against the configured server secret.
type Credential struct {
	value  string
	hashed bool
}

// NewCredential builds a Credential from the configured password value,
// auto-detecting the stored form.
func NewCredential(value string) *Credential {
	return &Credential{
		value:  value,
		hashed: isBcryptHash(value),
	}
}

// Empty reports whether no password is configured (authentication disabled).
func (c *Credential) Empty() bool {
	return c == nil || c.value == ""
}

// Hashed reports whether the stored value is a bcrypt hash.
func (c *Credential) Hashed() bool {
	return c.hashed
}

// Verify checks a client-supplied password. With no configured password it
// always succeeds.
func (c *Credential) Verify(password string) bool {
	if c.Empty() {
		return true
	}
	if c.hashed {
		return bcrypt.CompareHashAndPassword([]byte(c.value), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(c.value), []byte(password)) == 1
}

// Hash produces a bcrypt hash suitable for storing as the config password
// value.
func Hash(password string) (string, error) {
	if len(password) > 72 {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), DefaultBcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// isBcryptHash reports whether value looks like a bcrypt hash string.
func isBcryptHash(value string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(value, p) {
			return true
		}
	}
	return false
}
