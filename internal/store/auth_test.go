package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestTokenAuth_NoToken(t *testing.T) {
	a := NewTokenAuth(testSecret, filepath.Join(t.TempDir(), "token"), "")
	u, err := a.CurrentUser(t.Context())
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestTokenAuth_FilePickedUpOnEachCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	a := NewTokenAuth(testSecret, path, "")

	u, err := a.CurrentUser(t.Context())
	require.NoError(t, err)
	require.Nil(t, u)

	tok, err := IssueToken(testSecret, "user-42", "rider@example.com", time.Hour)
	require.NoError(t, err)
	require.NoError(t, SaveToken(path, tok))

	u, err = a.CurrentUser(t.Context())
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "user-42", u.ID)
	assert.Equal(t, "rider@example.com", u.Email)
}

func TestTokenAuth_EnvFallback(t *testing.T) {
	tok, err := IssueToken(testSecret, "user-env", "", time.Hour)
	require.NoError(t, err)
	t.Setenv("TRIPDIARY_TEST_TOKEN", tok)

	a := NewTokenAuth(testSecret, "", "TRIPDIARY_TEST_TOKEN")
	u, err := a.CurrentUser(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "user-env", u.ID)
}

func TestTokenAuth_InvalidTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	a := NewTokenAuth(testSecret, path, "")

	wrong, err := IssueToken("other-secret", "user-1", "", time.Hour)
	require.NoError(t, err)
	require.NoError(t, SaveToken(path, wrong))
	_, err = a.CurrentUser(t.Context())
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := IssueToken(testSecret, "user-1", "", -time.Minute)
	require.NoError(t, err)
	require.NoError(t, SaveToken(path, expired))
	_, err = a.CurrentUser(t.Context())
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, SaveToken(path, "not-a-jwt"))
	_, err = a.CurrentUser(t.Context())
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueToken_RequiresUser(t *testing.T) {
	_, err := IssueToken(testSecret, "", "", time.Hour)
	assert.Error(t, err)
}
