package middleware

import (
	"context"
	"net/http"

	"github.com/ireside/ireside/internal/auth"
	"github.com/ireside/ireside/internal/platform/database"
)

type sessionContextKey struct{}

// SessionContext derives the database session from the authenticated
// identity and stores it in the request context for RLS.
func SessionContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := auth.GetIdentity(r.Context())
		if identity != nil && identity.UserID != "" {
			s := database.Session{UserID: identity.UserID, Role: identity.Role}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s database.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// GetSession returns the request's database session, or the anonymous
// session when none was installed.
func GetSession(ctx context.Context) database.Session {
	if s, ok := ctx.Value(sessionContextKey{}).(database.Session); ok {
		return s
	}
	return database.Anonymous()
}
