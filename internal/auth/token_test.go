package auth_test

import (
	"testing"
	"time"

	"github.com/ireside/ireside/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-signing-key-must-be-32-chars!!"

func TestTokenService_CreateAndValidate(t *testing.T) {
	svc := auth.NewTokenService(testKey, "ireside", 1, 720)

	identity := &auth.Identity{
		UserID:      "user-123",
		Role:        auth.RoleLandlord,
		Email:       "ama@example.com",
		DisplayName: "Ama Mensah",
	}

	token, err := svc.CreateAccessToken(identity)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)

	assert.Equal(t, identity.UserID, got.UserID)
	assert.Equal(t, identity.Role, got.Role)
	assert.Equal(t, identity.Email, got.Email)
	assert.Equal(t, identity.DisplayName, got.DisplayName)
	assert.Equal(t, "access", got.TokenType)
	assert.Empty(t, got.FamilyID, "access tokens carry no family")
}

func TestTokenService_AccessTTL(t *testing.T) {
	svc := auth.NewTokenService(testKey, "ireside", 2, 720)
	assert.Equal(t, 2*time.Hour, svc.AccessTTL())
}

func TestTokenService_ExpiredToken(t *testing.T) {
	svc := auth.NewTokenService(testKey, "ireside", 0, 0) // 0 hours = expires immediately

	identity := &auth.Identity{UserID: "user-123", Role: auth.RoleTenant}

	token, err := svc.CreateAccessToken(identity)
	require.NoError(t, err)

	time.Sleep(time.Second)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestTokenService_InvalidSignature(t *testing.T) {
	svc1 := auth.NewTokenService("signing-key-one-must-be-32-chars!!", "ireside", 1, 720)
	svc2 := auth.NewTokenService("signing-key-two-must-be-32-chars!!", "ireside", 1, 720)

	token, err := svc1.CreateAccessToken(&auth.Identity{UserID: "user-123", Role: auth.RoleTenant})
	require.NoError(t, err)

	_, err = svc2.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenService_WrongIssuer(t *testing.T) {
	svc1 := auth.NewTokenService(testKey, "ireside", 1, 720)
	svc2 := auth.NewTokenService(testKey, "other-service", 1, 720)

	token, err := svc1.CreateAccessToken(&auth.Identity{UserID: "user-123", Role: auth.RoleTenant})
	require.NoError(t, err)

	_, err = svc2.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenService_MalformedToken(t *testing.T) {
	svc := auth.NewTokenService(testKey, "ireside", 1, 720)

	_, err := svc.ValidateToken("not.a.jwt")
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenService_RefreshTokenWithFamilyClaims(t *testing.T) {
	svc := auth.NewTokenService(testKey, "ireside", 1, 720)

	identity := &auth.Identity{
		UserID:     "user-123",
		Role:       auth.RoleTenant,
		FamilyID:   "family-abc",
		Generation: 3,
	}

	token, err := svc.CreateRefreshToken(identity)
	require.NoError(t, err)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "family-abc", got.FamilyID)
	assert.Equal(t, 3, got.Generation)
	assert.Equal(t, "refresh", got.TokenType)
}

func TestTokenService_RefreshTokenRequiresFamily(t *testing.T) {
	svc := auth.NewTokenService(testKey, "ireside", 1, 720)

	_, err := svc.CreateRefreshToken(&auth.Identity{UserID: "user-123"})
	assert.Error(t, err)
}
