package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	token, err := tokens.Issue("u1")
	require.NoError(t, err)

	userID, err := tokens.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestTokensRejects(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	token, err := tokens.Issue("u1")
	require.NoError(t, err)

	_, err = NewTokens("other", time.Hour).Resolve(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Resolve("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokens("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.Issue("u1")
	require.NoError(t, err)
	_, err = tokens.Resolve(old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "u1", "iss": issuer})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Resolve(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noUser := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": issuer})
	signed, err := noUser.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tokens.Resolve(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequestToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=abc", nil)
	assert.Equal(t, "abc", RequestToken(req))

	req = httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "xyz", RequestToken(req))

	req = httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Basic xyz")
	assert.Equal(t, "", RequestToken(req))

	_, ok := BearerToken("Bearer ")
	assert.False(t, ok)
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong"))
	assert.False(t, CheckPassword("", "correct horse"))
}
