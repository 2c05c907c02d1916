package auth

import (
	"context"
	"errors"
)

var (
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrUserNotFound       = errors.New("user not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
	ErrInvalidRole        = errors.New("role must be landlord or tenant")
	ErrFamilyNotFound     = errors.New("token family not found")
	ErrFamilyRevoked      = errors.New("token family revoked")
	ErrTokenReuse         = errors.New("refresh token reuse detected")
)

// Profile roles.
const (
	RoleLandlord = "landlord"
	RoleTenant   = "tenant"
	RoleAdmin    = "admin"
)

// Identity represents an authenticated user's claims.
type Identity struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	TokenType   string `json:"token_type"` // "access" or "refresh"

	// Refresh tokens only.
	FamilyID   string `json:"-"`
	Generation int    `json:"-"`
}

// Service defines the token interface used by the HTTP layer.
type Service interface {
	// CreateAccessToken creates a JWT access token for the given identity.
	CreateAccessToken(identity *Identity) (string, error)
	// CreateRefreshToken creates a JWT refresh token bound to identity.FamilyID.
	CreateRefreshToken(identity *Identity) (string, error)
	// ValidateToken validates a JWT and returns the identity.
	ValidateToken(tokenString string) (*Identity, error)
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}
