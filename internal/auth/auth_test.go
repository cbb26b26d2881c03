package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduka-backend/internal/models"
)

func TestGenerateAndParseToken(t *testing.T) {
	jwtSecret = []byte("test-secret")

	user := models.User{ID: 42, Email: "aluno@example.com", Role: "user"}
	token, expiry, err := GenerateToken(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiry, time.Minute)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "aluno@example.com", claims.Email)
	assert.Equal(t, "user", claims.Role)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	jwtSecret = []byte("secret-one")
	token, _, err := GenerateToken(models.User{ID: 1, Email: "a@b.com"})
	require.NoError(t, err)

	jwtSecret = []byte("secret-two")
	_, err = ParseToken(token)
	assert.Error(t, err)
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("super-secreta-123")
	require.NoError(t, err)
	assert.NotEqual(t, "super-secreta-123", hash)

	assert.True(t, CheckPassword("super-secreta-123", hash))
	assert.False(t, CheckPassword("errada", hash))
}

func TestAccountLockout(t *testing.T) {
	future := time.Now().Add(10 * time.Minute)
	past := time.Now().Add(-10 * time.Minute)

	assert.False(t, IsAccountLocked(&models.User{}))
	assert.True(t, IsAccountLocked(&models.User{LockedUntil: &future}))
	assert.False(t, IsAccountLocked(&models.User{LockedUntil: &past}))
}
