package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ireside/ireside/internal/auth"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/middleware"
	"github.com/stretchr/testify/assert"
)

func TestSessionContext_FromIdentity(t *testing.T) {
	var got database.Session
	handler := middleware.SessionContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = middleware.GetSession(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "user-1", Role: auth.RoleLandlord}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, database.Session{UserID: "user-1", Role: auth.RoleLandlord}, got)
}

func TestSessionContext_AnonymousWithoutIdentity(t *testing.T) {
	var got database.Session
	handler := middleware.SessionContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = middleware.GetSession(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, database.Anonymous(), got)
}

func TestGetSession_Default(t *testing.T) {
	assert.Equal(t, database.RoleAnon, middleware.GetSession(context.Background()).Role)
}
