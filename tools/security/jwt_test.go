package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerifyRoundtrip(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	token, exp, err := Generate(opts, "alice")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	uid, err := NewVerifier(opts).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	v := NewVerifier(opts)

	_, err := v.Verify("")
	assert.Error(t, err)

	_, err = v.Verify("   ")
	assert.Error(t, err)

	_, err = v.Verify("not.a.jwt")
	assert.Error(t, err)

	// signed with a different key
	token, _, err := Generate(DefaultOptions([]byte("other-secret")), "alice")
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.Error(t, err)
}

func TestUnsupportedAlg(t *testing.T) {
	_, _, err := Generate(Options{Secret: []byte("k"), Alg: "RS256"}, "alice")
	assert.Error(t, err)
}
