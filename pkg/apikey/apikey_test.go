package apikey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	key := Generate()
	require.NotEqual(t, key, Generate())
	h := Hash(key)
	require.True(t, Verify(key, h))
	require.False(t, Verify(key+"x", h))
	require.False(t, Verify(key, "not base64!"))
	require.False(t, Verify(key, ""))
	// Same key, different salt
	require.NotEqual(t, h, Hash(key))
}

func TestFromAuthorizationHeader(t *testing.T) {
	require.Equal(t, "abc", FromAuthorizationHeader("ApiKey abc"))
	require.Equal(t, "abc", FromAuthorizationHeader(" apikey  abc "))
	require.Equal(t, "", FromAuthorizationHeader("Bearer abc"))
	require.Equal(t, "", FromAuthorizationHeader("ApiKey"))
}
