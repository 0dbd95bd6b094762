package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleetops/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func testUser() *models.User {
	return &models.User{
		ID:       primitive.NewObjectID(),
		Username: "testuser",
		Role:     models.RoleOBC,
	}
}

func TestNewService(t *testing.T) {
	service := NewService("", 0)
	assert.Equal(t, []byte(defaultSecret), service.jwtSecret)
	assert.Equal(t, 24*time.Hour, service.tokenExp)

	service = NewService("s3cret", time.Hour)
	assert.Equal(t, []byte("s3cret"), service.jwtSecret)
	assert.Equal(t, time.Hour, service.tokenExp)
}

func TestService_HashAndCheckPassword(t *testing.T) {
	service := NewService("", 0)

	password := "testpassword123"
	hash, err := service.HashPassword(password)
	require.NoError(t, err)
	assert.NotEqual(t, password, hash)

	assert.True(t, service.CheckPassword(password, hash))
	assert.False(t, service.CheckPassword("wrongpassword", hash))
}

func TestService_ValidateToken(t *testing.T) {
	service := NewService("secret", time.Hour)
	user := testUser()

	token, err := service.GenerateToken(user)
	require.NoError(t, err)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.Hex(), claims.UserID)
	assert.Equal(t, user.Username, claims.Username)
	assert.Equal(t, user.Role, claims.Role)

	_, err = service.ValidateToken("invalid-token")
	assert.Equal(t, ErrInvalidToken, err)

	// Bearer prefix is tolerated
	_, err = service.ValidateToken("Bearer " + token)
	assert.NoError(t, err)

	// signed with another secret
	other := NewService("other", time.Hour)
	_, err = other.ValidateToken(token)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestService_TokenExpiration(t *testing.T) {
	service := NewService("secret", time.Hour)
	issued := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return issued }

	token, err := service.GenerateToken(testUser())
	require.NoError(t, err)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, issued.Add(time.Hour).Unix(), claims.Exp)

	service.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = service.ValidateToken(token)
	assert.Equal(t, ErrExpiredToken, err)
}

func TestService_ExtractTokenFromHeader(t *testing.T) {
	service := NewService("", 0)

	extracted, err := service.ExtractTokenFromHeader("Bearer valid-token")
	assert.NoError(t, err)
	assert.Equal(t, "valid-token", extracted)

	for _, header := range []string{"", "InvalidFormat", "Bearer ", "Basic abc"} {
		_, err = service.ExtractTokenFromHeader(header)
		assert.Equal(t, ErrInvalidToken, err, "header %q", header)
	}
}

func TestService_Validators(t *testing.T) {
	service := NewService("", 0)

	assert.NoError(t, service.ValidatePassword("validpassword123"))
	assert.ErrorContains(t, service.ValidatePassword("short"), "at least 8 characters")

	assert.NoError(t, service.ValidateEmail("test@example.com"))
	assert.ErrorContains(t, service.ValidateEmail("testexample.com"), "invalid email format")
	assert.ErrorContains(t, service.ValidateEmail("test@"), "invalid email format")

	assert.NoError(t, service.ValidateUsername("testuser"))
	assert.ErrorContains(t, service.ValidateUsername("ab"), "at least 3 characters")
	assert.ErrorContains(t, service.ValidateUsername(strings.Repeat("a", 51)), "less than 50 characters")
}

func TestService_GenerateRefreshToken(t *testing.T) {
	token, err := NewService("", 0).GenerateRefreshToken()
	assert.NoError(t, err)
	assert.Len(t, token, 44) // base64 of 32 bytes
}
