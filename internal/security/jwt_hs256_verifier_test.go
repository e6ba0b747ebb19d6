package security_test

import (
	"testing"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/security"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func baseClaims(exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"uid":  "viewer-1",
		"role": "user",
		"ver":  2,
		"iat":  time.Now().Unix(),
		"exp":  exp.Unix(),
		"iss":  "auth-service",
	}
}

func TestHS256Verifier_VerifyAccessToken(t *testing.T) {
	v := security.NewHS256Verifier("supersecret", "auth-service")

	t.Run("valid token", func(t *testing.T) {
		claims, err := v.VerifyAccessToken(sign(t, "supersecret", jwt.SigningMethodHS256, baseClaims(time.Now().Add(time.Hour))))
		require.NoError(t, err)
		assert.Equal(t, "viewer-1", claims.ViewerID())
		assert.Equal(t, int64(2), claims.Ver)
		assert.False(t, claims.IsAdmin())
	})

	t.Run("admin role", func(t *testing.T) {
		c := baseClaims(time.Now().Add(time.Hour))
		c["role"] = "Admin"
		claims, err := v.VerifyAccessToken(sign(t, "supersecret", jwt.SigningMethodHS256, c))
		require.NoError(t, err)
		assert.True(t, claims.IsAdmin())
	})

	t.Run("subject fallback", func(t *testing.T) {
		c := baseClaims(time.Now().Add(time.Hour))
		delete(c, "uid")
		c["sub"] = "viewer-2"
		claims, err := v.VerifyAccessToken(sign(t, "supersecret", jwt.SigningMethodHS256, c))
		require.NoError(t, err)
		assert.Equal(t, "viewer-2", claims.ViewerID())
	})

	t.Run("no identity", func(t *testing.T) {
		c := baseClaims(time.Now().Add(time.Hour))
		delete(c, "uid")
		_, err := v.VerifyAccessToken(sign(t, "supersecret", jwt.SigningMethodHS256, c))
		assert.ErrorIs(t, err, security.ErrTokenInvalid)
	})

	t.Run("expired token", func(t *testing.T) {
		_, err := v.VerifyAccessToken(sign(t, "supersecret", jwt.SigningMethodHS256, baseClaims(time.Now().Add(-time.Minute))))
		assert.ErrorIs(t, err, security.ErrTokenExpired)
	})

	t.Run("wrong signature", func(t *testing.T) {
		_, err := v.VerifyAccessToken(sign(t, "othersecret", jwt.SigningMethodHS256, baseClaims(time.Now().Add(time.Hour))))
		assert.ErrorIs(t, err, security.ErrTokenInvalid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		c := baseClaims(time.Now().Add(time.Hour))
		c["iss"] = "someone-else"
		_, err := v.VerifyAccessToken(sign(t, "supersecret", jwt.SigningMethodHS256, c))
		assert.ErrorIs(t, err, security.ErrTokenInvalid)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		_, err := v.VerifyAccessToken(sign(t, "supersecret", jwt.SigningMethodHS512, baseClaims(time.Now().Add(time.Hour))))
		assert.ErrorIs(t, err, security.ErrTokenInvalid)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := v.VerifyAccessToken("not.a.jwt")
		assert.ErrorIs(t, err, security.ErrTokenInvalid)
	})
}

func TestHS256Verifier_NoIssuerCheckWhenUnset(t *testing.T) {
	v := security.NewHS256Verifier("supersecret", "")
	c := baseClaims(time.Now().Add(time.Hour))
	c["iss"] = "anyone"
	_, err := v.VerifyAccessToken(sign(t, "supersecret", jwt.SigningMethodHS256, c))
	assert.NoError(t, err)
}
