package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signingKey = "test-signing-key"

func issueToken(t *testing.T, key string, claims jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func TestValidateToken(t *testing.T) {
	v := NewValidator(signingKey)

	t.Run("valid token", func(t *testing.T) {
		tok := issueToken(t, signingKey, operatorClaims{
			Role: "admin",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "ops@example.com",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})

		claims, err := v.ValidateToken(tok)
		require.NoError(t, err)
		assert.Equal(t, "ops@example.com", claims.Subject)
		assert.Equal(t, "admin", claims.Role)
	})

	t.Run("wrong key", func(t *testing.T) {
		tok := issueToken(t, "other-key", jwt.RegisteredClaims{
			Subject:   "ops@example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		_, err := v.ValidateToken(tok)
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		tok := issueToken(t, signingKey, jwt.RegisteredClaims{
			Subject:   "ops@example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		})
		_, err := v.ValidateToken(tok)
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		tok := issueToken(t, signingKey, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		_, err := v.ValidateToken(tok)
		assert.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := v.ValidateToken("not.a.token")
		assert.Error(t, err)
	})
}
