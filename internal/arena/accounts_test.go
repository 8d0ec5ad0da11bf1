package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/arena/internal/config"
)

func TestAccounts_NamedAccount(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	accts := NewAccounts([]config.AccountConfig{{Username: "admin", PasswordHash: hash}}, false)

	assert.NoError(t, accts.Authenticate("admin", "hunter2"))
	assert.ErrorIs(t, accts.Authenticate("admin", "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, accts.Authenticate("guest", ""), ErrInvalidCredentials, "guests disabled")
	assert.ErrorIs(t, accts.Authenticate("", ""), ErrInvalidCredentials)
}

func TestAccounts_Guests(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	accts := NewAccounts([]config.AccountConfig{{Username: "admin", PasswordHash: hash}}, true)

	assert.NoError(t, accts.Authenticate("anyone", ""))
	assert.ErrorIs(t, accts.Authenticate("admin", ""), ErrInvalidCredentials, "named accounts still need their password")
}

func TestHashPassword_Salted(t *testing.T) {
	h1, err := HashPassword("same")
	require.NoError(t, err)
	h2, err := HashPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.True(t, CheckPassword("same", h1))
	assert.True(t, CheckPassword("same", h2))
	assert.False(t, CheckPassword("other", h1))
}
