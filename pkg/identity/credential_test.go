package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyPlaintext(t *testing.T) {
	c := NewCredential("secret")
	assert.False(t, c.Hashed())
	assert.True(t, c.Verify("secret"))
	assert.False(t, c.Verify("wrong"))
	assert.False(t, c.Verify(""))
}

func TestVerifyHashed(t *testing.T) {
	hash, err := Hash("secret")
	require.NoError(t, err)

	c := NewCredential(hash)
	assert.True(t, c.Hashed())
	assert.True(t, c.Verify("secret"))
	assert.False(t, c.Verify("wrong"))
}

func TestEmptyCredentialAlwaysVerifies(t *testing.T) {
	c := NewCredential("")
	assert.True(t, c.Empty())
	assert.True(t, c.Verify("anything"))
}

func TestHashPrefixDetection(t *testing.T) {
	assert.True(t, isBcryptHash("$2a$10$abcdefghijklmnopqrstuv"))
	assert.True(t, isBcryptHash("$2b$12$abcdefghijklmnopqrstuv"))
	assert.True(t, isBcryptHash("$2y$10$abcdefghijklmnopqrstuv"))
	assert.False(t, isBcryptHash("plaintext"))
	assert.False(t, isBcryptHash("$1$legacy"))
}

func TestHashTooLong(t *testing.T) {
	_, err := Hash(strings.Repeat("x", 73))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}
