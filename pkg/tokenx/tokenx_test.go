package tokenx_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/rentloop/rentloop/pkg/tokenx"
	"github.com/stretchr/testify/require"
)

func newCodec(t *testing.T) *tokenx.Codec {
	t.Helper()
	c, err := tokenx.NewCodec([]byte("test-session-key"))
	require.NoError(t, err)
	return c
}

func TestNewCodec(t *testing.T) {
	t.Run("rejects an empty secret", func(t *testing.T) {
		_, err := tokenx.NewCodec(nil)
		require.Error(t, err)
	})
}

func TestAccessRoundTrip(t *testing.T) {
	c := newCodec(t)

	t.Run("returns the original subject and scopes", func(t *testing.T) {
		token, err := c.IssueAccess("alice", []string{"listings:read", "messages:write"}, time.Minute)
		require.NoError(t, err)

		claims, err := c.ValidateAccess(token)
		require.NoError(t, err)
		require.Equal(t, "alice", claims.Subject)
		require.Equal(t, []string{"listings:read", "messages:write"}, claims.Scopes)
	})

	t.Run("tokens are opaque and non-deterministic", func(t *testing.T) {
		t1, err := c.IssueAccess("alice", nil, time.Minute)
		require.NoError(t, err)
		t2, err := c.IssueAccess("alice", nil, time.Minute)
		require.NoError(t, err)
		require.NotEqual(t, t1, t2) // fresh nonce per seal
	})

	t.Run("fails with ErrExpired past the TTL", func(t *testing.T) {
		token, err := c.IssueAccess("alice", nil, -time.Second)
		require.NoError(t, err)

		_, err = c.ValidateAccess(token)
		require.ErrorIs(t, err, tokenx.ErrExpired)
	})
}

func TestRefreshRoundTrip(t *testing.T) {
	c := newCodec(t)

	t.Run("carries user, family and jti", func(t *testing.T) {
		token, err := c.IssueRefresh("user-1", "fam-1", "jti-1", time.Hour)
		require.NoError(t, err)

		claims, err := c.ValidateRefresh(token)
		require.NoError(t, err)
		require.Equal(t, "user-1", claims.UserID)
		require.Equal(t, "fam-1", claims.Family)
		require.Equal(t, "jti-1", claims.ID)
	})

	t.Run("an access token is not a refresh token", func(t *testing.T) {
		token, err := c.IssueAccess("alice", nil, time.Minute)
		require.NoError(t, err)

		_, err = c.ValidateRefresh(token)
		require.ErrorIs(t, err, tokenx.ErrMalformed)
	})

	t.Run("a refresh token is not an access token", func(t *testing.T) {
		token, err := c.IssueRefresh("user-1", "fam-1", "jti-1", time.Hour)
		require.NoError(t, err)

		_, err = c.ValidateAccess(token)
		require.ErrorIs(t, err, tokenx.ErrMalformed)
	})
}

func TestTamperDetection(t *testing.T) {
	c := newCodec(t)

	t.Run("bit flip fails loudly", func(t *testing.T) {
		token, err := c.IssueAccess("alice", nil, time.Minute)
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(token)
		require.NoError(t, err)
		raw[len(raw)/2] ^= 0x01
		mangled := base64.RawURLEncoding.EncodeToString(raw)

		_, err = c.ValidateAccess(mangled)
		require.ErrorIs(t, err, tokenx.ErrTampered)
	})

	t.Run("wrong key fails loudly", func(t *testing.T) {
		other, err := tokenx.NewCodec([]byte("a-different-key"))
		require.NoError(t, err)

		token, err := c.IssueAccess("alice", nil, time.Minute)
		require.NoError(t, err)

		_, err = other.ValidateAccess(token)
		require.ErrorIs(t, err, tokenx.ErrTampered)
	})
}

func TestMalformedInput(t *testing.T) {
	c := newCodec(t)

	for _, token := range []string{"", "!!not-base64!!", "c2hvcnQ"} {
		_, err := c.ValidateAccess(token)
		require.ErrorIs(t, err, tokenx.ErrMalformed, "input %q", token)
	}
}
