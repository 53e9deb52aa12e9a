//go:build test

package nip46

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	t.Run("valid request", func(t *testing.T) {
		req, err := ParseRequest([]byte(`{"id":"1","method":"ping","params":[]}`))
		require.NoError(t, err)
		require.Equal(t, "1", req.ID)
		require.Equal(t, MethodPing, req.Method)
		require.Empty(t, req.Params)
	})

	t.Run("params default to empty slice", func(t *testing.T) {
		req, err := ParseRequest([]byte(`{"id":"1","method":"ping"}`))
		require.NoError(t, err)
		require.NotNil(t, req.Params)
	})

	t.Run("unknown method rejected", func(t *testing.T) {
		_, err := ParseRequest([]byte(`{"id":"1","method":"create_account","params":[]}`))
		require.ErrorIs(t, err, ErrUnknownMethod)
	})

	t.Run("missing id accepted", func(t *testing.T) {
		req, err := ParseRequest([]byte(`{"method":"ping","params":[]}`))
		require.NoError(t, err)
		require.Empty(t, req.ID)
		require.Equal(t, MethodPing, req.Method)
	})

	t.Run("malformed JSON rejected", func(t *testing.T) {
		_, err := ParseRequest([]byte(`{"id":`))
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("every supported method parses", func(t *testing.T) {
		for _, m := range Methods {
			_, err := ParseRequest([]byte(`{"id":"1","method":"` + string(m) + `","params":["a","b"]}`))
			require.NoError(t, err, "method %s", m)
		}
	})
}

func TestRequestParam(t *testing.T) {
	req := &Request{ID: "1", Method: MethodConnect, Params: []string{"a", "b"}}
	require.Equal(t, "a", req.Param(0))
	require.Equal(t, "b", req.Param(1))
	require.Equal(t, "", req.Param(2))
	require.Equal(t, "", req.Param(-1))
}

func TestIsValidPubKey(t *testing.T) {
	require.True(t, IsValidPubKey(strings.Repeat("a", 64)))
	require.True(t, IsValidPubKey(strings.Repeat("0", 32)+strings.Repeat("f", 32)))

	require.False(t, IsValidPubKey(strings.Repeat("a", 63)))
	require.False(t, IsValidPubKey(strings.Repeat("a", 65)))
	require.False(t, IsValidPubKey(strings.Repeat("A", 64)), "uppercase hex is rejected")
	require.False(t, IsValidPubKey(strings.Repeat("g", 64)))
	require.False(t, IsValidPubKey(""))
}
