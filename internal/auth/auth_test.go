package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	a := New([]string{"secret1", "secret2"}, true)

	cases := map[string]struct {
		credential string
		want       bool
	}{
		"member":        {credential: "secret1", want: true},
		"other member":  {credential: "secret2", want: true},
		"absent":        {credential: "", want: false},
		"unknown":       {credential: "secret3", want: false},
		"case mismatch": {credential: "SECRET1", want: false},
		"prefix":        {credential: "secret", want: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, a.Authenticate(tc.credential))
		})
	}
}

func TestAuthenticateDisabledAcceptsAll(t *testing.T) {
	a := New(nil, false)
	require.False(t, a.Enabled())
	require.True(t, a.Authenticate(""))
	require.True(t, a.Authenticate("anything"))

	var nilAuth *Authenticator
	require.True(t, nilAuth.Authenticate(""))
}

func TestEmptyKeyIsNeverAccepted(t *testing.T) {
	a := New([]string{""}, true)
	require.Zero(t, a.KeyCount())
	require.False(t, a.Authenticate(""))
}

func TestParseKeys(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, ParseKeys("a, b,,c ,"))
	require.Empty(t, ParseKeys(""))
	require.Empty(t, ParseKeys(" , "))
}
