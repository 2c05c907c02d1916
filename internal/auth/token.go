package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type iresideClaims struct {
	jwt.RegisteredClaims
	UserID      string `json:"uid"`
	Role        string `json:"role"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`
	TokenType   string `json:"type"`
	FamilyID    string `json:"fid,omitempty"`
	Generation  int    `json:"gen,omitempty"`
}

// TokenService handles JWT creation and validation.
type TokenService struct {
	signingKey         []byte
	issuer             string
	expiryHours        int
	refreshExpiryHours int
}

func NewTokenService(signingKey, issuer string, expiryHours, refreshExpiryHours int) *TokenService {
	return &TokenService{
		signingKey:         []byte(signingKey),
		issuer:             issuer,
		expiryHours:        expiryHours,
		refreshExpiryHours: refreshExpiryHours,
	}
}

// AccessTTL is the lifetime of access tokens.
func (s *TokenService) AccessTTL() time.Duration {
	return time.Duration(s.expiryHours) * time.Hour
}

func (s *TokenService) CreateAccessToken(identity *Identity) (string, error) {
	return s.createToken(identity, "access", s.expiryHours)
}

func (s *TokenService) CreateRefreshToken(identity *Identity) (string, error) {
	if identity.FamilyID == "" || identity.Generation < 1 {
		return "", fmt.Errorf("refresh token requires a family and generation")
	}
	return s.createToken(identity, "refresh", s.refreshExpiryHours)
}

func (s *TokenService) createToken(identity *Identity, tokenType string, expiryHours int) (string, error) {
	now := time.Now()

	claims := iresideClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expiryHours) * time.Hour)),
		},
		UserID:      identity.UserID,
		Role:        identity.Role,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		TokenType:   tokenType,
	}
	if tokenType == "refresh" {
		claims.FamilyID = identity.FamilyID
		claims.Generation = identity.Generation
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

func (s *TokenService) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &iresideClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*iresideClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return &Identity{
		UserID:      claims.UserID,
		Role:        claims.Role,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		TokenType:   claims.TokenType,
		FamilyID:    claims.FamilyID,
		Generation:  claims.Generation,
	}, nil
}
