package idp

import (
	"testing"
	"time"

	"github.com/edupath/authsync/role"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test"))
	require.NoError(t, err)
	return s
}

func TestParseTokenResult(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok := sign(t, jwt.MapClaims{
		"sub":       "uid-1",
		"iat":       now.Unix(),
		"exp":       now.Add(time.Hour).Unix(),
		"auth_time": now.Add(-time.Minute).Unix(),
		"role":      "Teacher",
		"firebase":  map[string]any{"sign_in_provider": "password"},
	})

	res, err := ParseTokenResult(tok)
	require.NoError(t, err)
	assert.Equal(t, tok, res.Token)
	assert.Equal(t, "uid-1", res.Subject)
	assert.Equal(t, now, res.IssuedAt)
	assert.Equal(t, now.Add(time.Hour), res.ExpiresAt)
	assert.Equal(t, now.Add(-time.Minute), res.AuthTime)
	assert.Equal(t, "password", res.SignInProvider)
	assert.Equal(t, role.Teacher, res.Role())
	assert.False(t, res.Expired(now))
	assert.True(t, res.Expired(now.Add(time.Hour)))
}

func TestTokenResultUnknownRole(t *testing.T) {
	res, err := ParseTokenResult(sign(t, jwt.MapClaims{"sub": "u", "role": "janitor"}))
	require.NoError(t, err)
	assert.Equal(t, role.Role(""), res.Role())

	res, err = ParseTokenResult(sign(t, jwt.MapClaims{"sub": "u"}))
	require.NoError(t, err)
	assert.Equal(t, role.Role(""), res.Role())
	assert.False(t, res.Expired(time.Now()), "tokens without exp never expire")
}

func TestParseTokenResultMalformed(t *testing.T) {
	_, err := ParseTokenResult("not-a-jwt")
	assert.ErrorIs(t, err, ErrMalformedToken)
}
