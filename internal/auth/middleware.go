package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type identityContextKey struct{}

// IdentityContextKey returns the context key used to store the identity.
// Exported so other packages can set identity in context for testing.
func IdentityContextKey() identityContextKey {
	return identityContextKey{}
}

// Middleware returns HTTP middleware that validates JWT access tokens.
func Middleware(tokenSvc *TokenService) func(http.Handler) http.Handler {
	return MiddlewareWithDevMode(tokenSvc, nil)
}

// MiddlewareWithDevMode returns auth middleware that also accepts "Bearer dev" in dev mode.
func MiddlewareWithDevMode(tokenSvc *TokenService, devIdentity *Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractBearerToken(r)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, err.Error())
				return
			}

			identity, status, msg := resolve(tokenSvc, devIdentity, token)
			if identity == nil {
				writeAuthError(w, status, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// OptionalMiddleware attaches an identity when a bearer token is present and
// lets anonymous requests through. A malformed or invalid token is still a 401.
func OptionalMiddleware(tokenSvc *TokenService, devIdentity *Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, err := extractBearerToken(r)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, err.Error())
				return
			}

			identity, status, msg := resolve(tokenSvc, devIdentity, token)
			if identity == nil {
				writeAuthError(w, status, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// AuthenticateToken validates a raw access token outside the middleware chain,
// for transports such as websockets that cannot send headers.
func AuthenticateToken(tokenSvc *TokenService, devIdentity *Identity, token string) (*Identity, error) {
	identity, _, msg := resolve(tokenSvc, devIdentity, token)
	if identity == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	}
	return identity, nil
}

func resolve(tokenSvc *TokenService, devIdentity *Identity, token string) (*Identity, int, string) {
	// Dev mode: accept "dev" as token
	if token == "dev" && devIdentity != nil {
		return devIdentity, 0, ""
	}

	identity, err := tokenSvc.ValidateToken(token)
	if err != nil {
		return nil, http.StatusUnauthorized, "invalid token"
	}

	// Reject refresh tokens on non-refresh endpoints
	if identity.TokenType != "access" {
		return nil, http.StatusUnauthorized, "access token required"
	}
	return identity, 0, ""
}

// GetIdentity retrieves the authenticated identity from the request context.
func GetIdentity(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityContextKey{}).(*Identity)
	return identity
}

func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", fmt.Errorf("invalid authorization header format")
	}

	return parts[1], nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
