package secret_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/devhub/internal/secret"
)

func TestPlainMatcher(t *testing.T) {
	m, err := secret.NewMatcher("s3cret", "")
	require.NoError(t, err)

	require.True(t, m.Match("s3cret"))
	require.False(t, m.Match("s3cret "))
	require.False(t, m.Match("S3CRET"))
	require.False(t, m.Match(""))
}

func TestHashedMatcher(t *testing.T) {
	encoded, err := secret.Hash("operator-secret")
	require.NoError(t, err)

	m, err := secret.NewMatcher("ignored-when-hash-set", encoded)
	require.NoError(t, err)
	require.True(t, m.Match("operator-secret"))
	require.False(t, m.Match("ignored-when-hash-set"))
}

func TestNewMatcherRejectsBadConfig(t *testing.T) {
	_, err := secret.NewMatcher("", "")
	require.Error(t, err)

	_, err = secret.NewMatcher("", "$argon2id$v=19$m=oops$salt$key")
	require.Error(t, err)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	ok, err := secret.Verify("x", "plain-text")
	require.Error(t, err)
	require.False(t, ok)
}

func TestNilMatcherNeverMatches(t *testing.T) {
	var m *secret.Matcher
	require.False(t, m.Match("anything"))
}
