package cryptox_test

import (
	"path/filepath"
	"testing"

	"github.com/rentloop/rentloop/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	cryptox.SetPepperPath(filepath.Join(t.TempDir(), "pepper"))

	t.Run("round-trips a password", func(t *testing.T) {
		hash, err := cryptox.HashPassword("correct horse battery staple")
		require.NoError(t, err)
		require.Contains(t, hash, "$argon2id$v=19$")

		require.NoError(t, cryptox.VerifyPassword("correct horse battery staple", hash))
	})

	t.Run("rejects a wrong password", func(t *testing.T) {
		hash, err := cryptox.HashPassword("hunter2")
		require.NoError(t, err)

		err = cryptox.VerifyPassword("hunter3", hash)
		require.ErrorIs(t, err, cryptox.ErrPasswordMismatch)
	})

	t.Run("salts are unique per hash", func(t *testing.T) {
		h1, err := cryptox.HashPassword("same input")
		require.NoError(t, err)
		h2, err := cryptox.HashPassword("same input")
		require.NoError(t, err)
		require.NotEqual(t, h1, h2)
	})

	t.Run("rejects malformed hashes", func(t *testing.T) {
		require.Error(t, cryptox.VerifyPassword("pw", "not-a-hash"))
		require.Error(t, cryptox.VerifyPassword("pw", "$bcrypt$v=19$m=1,t=1,p=1$AAAA$BBBB"))
	})
}

func TestGenerateToken(t *testing.T) {
	t.Run("length scales with size", func(t *testing.T) {
		tok, err := cryptox.GenerateToken(cryptox.TokenSize256)
		require.NoError(t, err)
		require.Len(t, tok, 43) // 32 bytes base64url, no padding
	})

	t.Run("rejects non-positive sizes", func(t *testing.T) {
		_, err := cryptox.GenerateToken(0)
		require.Error(t, err)
	})
}
