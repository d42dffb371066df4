package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-16-chars!!"

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testSecret, 0)
	require.NoError(t, err)
	return ts
}

// =========================================================================
// CONSTRUCTION
// =========================================================================

func TestNewTokenService(t *testing.T) {
	_, err := NewTokenService("short", 0)
	assert.Error(t, err, "secrets under 16 characters are rejected")

	ts, err := NewTokenService("this-is-16-chars", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenExpiry, ts.Expiry(), "zero expiry falls back to the default")

	ts, err = NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ts.Expiry())
}

// =========================================================================
// GENERATE / VALIDATE
// =========================================================================

func TestGenerateValidate_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("acct-abc-123")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."), "header.payload.signature")

	got, err := ts.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "acct-abc-123", got)

	other, err := ts.Generate("acct-bbb")
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestValidate_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	other, err := NewTokenService("wrong-secret-32-chars-long!!!!!!", 0)
	require.NoError(t, err)

	valid, err := ts.Generate("acct-123")
	require.NoError(t, err)
	expired, err := ts.GenerateWithDuration("acct-123", -time.Second)
	require.NoError(t, err)
	otherSecret, err := other.Generate("acct-123")
	require.NoError(t, err)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "acct-123",
		Issuer:    "another-service",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt.token"},
		{"tampered signature", valid[:len(valid)-3] + "xxx"},
		{"expired", expired},
		{"different secret", otherSecret},
		{"foreign issuer", foreign},
		{"missing subject", noSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.Validate(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestGenerateWithDuration(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.GenerateWithDuration("acct-123", time.Hour)
	require.NoError(t, err)

	got, err := ts.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "acct-123", got)
}
