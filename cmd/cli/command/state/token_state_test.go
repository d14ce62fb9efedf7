package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")

	got, err := LoadToken(path)
	require.NoError(t, err)
	assert.Nil(t, got)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, SaveToken(path, &ControlToken{Token: "abc", Subject: "operator", ExpiresAt: expires}))

	got, err = LoadToken(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.Token)
	assert.True(t, got.ExpiresAt.Equal(expires))
	assert.False(t, got.Expired(time.Now()))
	assert.True(t, got.Expired(expires.Add(time.Second)))

	require.NoError(t, ClearToken(path))
	require.NoError(t, ClearToken(path))
	got, err = LoadToken(path)
	require.NoError(t, err)
	assert.Nil(t, got)
}
