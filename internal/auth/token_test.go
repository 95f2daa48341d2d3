package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)

	token, err := issuer.Issue("alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	username, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewIssuer("secret-one", time.Hour).Issue("alice")
	require.NoError(t, err)

	_, err = NewIssuer("secret-two", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)

	for _, token := range []string{"", "not-a-token", "a.b", "a.b.c"} {
		_, err := issuer.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	token, err := NewIssuer("test-secret", -time.Minute).Issue("alice")
	require.NoError(t, err)

	_, err = NewIssuer("test-secret", -time.Minute).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestZeroTTLIssuesNonExpiringToken(t *testing.T) {
	issuer := NewIssuer("test-secret", 0)

	token, err := issuer.Issue("alice")
	require.NoError(t, err)

	username, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestVerifyRejectsEmptyUsernameClaim(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)

	token, err := issuer.Issue("")
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
