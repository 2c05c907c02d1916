package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ireside/ireside/internal/auth"
	"github.com/ireside/ireside/internal/concierge"
	"github.com/ireside/ireside/internal/listing"
	"github.com/ireside/ireside/internal/platform/server"
	"github.com/ireside/ireside/internal/property"
	"github.com/ireside/ireside/internal/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_HealthCheck(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var body map[string]any
	err := json.Unmarshal(w.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_ReadinessCheck_NoDB(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_NotFound(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_StartStop(t *testing.T) {
	srv := server.New("127.0.0.1:0", server.Dependencies{})

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	cancel()

	err := <-errCh
	assert.NoError(t, err)
}

func newTestDeps() (server.Dependencies, *auth.TokenService) {
	tokenSvc := auth.NewTokenService("test-signing-key-must-be-32-chars!!", "ireside", 1, 24)
	return server.Dependencies{
		Auth:             tokenSvc,
		RBAC:             rbac.NewEvaluator(rbac.DefaultRoles()),
		PropertyHandler:  property.NewHandler(nil, property.NewStore(), nil),
		ListingHandler:   listing.NewHandler(nil, listing.NewStore(), nil, nil, nil),
		ConciergeHandler: concierge.NewHandler(nil, concierge.NewStore(), nil, nil, nil, concierge.Config{}),
	}, tokenSvc
}

func bearer(t *testing.T, tokenSvc *auth.TokenService, role string) string {
	t.Helper()
	token, err := tokenSvc.CreateAccessToken(&auth.Identity{
		UserID: "7c1e7a52-6f2b-4c55-9d55-0d4f3f3f7a10",
		Role:   role,
		Email:  role + "@example.com",
	})
	require.NoError(t, err)
	return "Bearer " + token
}

func TestServer_PermissionChecks(t *testing.T) {
	deps, tokenSvc := newTestDeps()
	srv := server.New(":0", deps)

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/properties", "", http.StatusUnauthorized},
		{"tenant creating property", http.MethodPost, "/api/v1/properties", auth.RoleTenant, http.StatusForbidden},
		{"tenant editing kb", http.MethodPost, "/api/v1/properties/7c1e7a52-6f2b-4c55-9d55-0d4f3f3f7a10/kb", auth.RoleTenant, http.StatusForbidden},
		{"landlord chatting", http.MethodPost, "/api/v1/concierge/messages", auth.RoleLandlord, http.StatusForbidden},
		{"landlord reading concierge history", http.MethodGet, "/api/v1/concierge/messages", auth.RoleLandlord, http.StatusForbidden},
		{"tenant managing listings", http.MethodGet, "/api/v1/listings", auth.RoleTenant, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.role != "" {
				req.Header.Set("Authorization", bearer(t, tokenSvc, tt.role))
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestServer_ValidationRunsAfterPermission(t *testing.T) {
	deps, tokenSvc := newTestDeps()
	srv := server.New(":0", deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties/not-a-uuid", nil)
	req.Header.Set("Authorization", bearer(t, tokenSvc, auth.RoleLandlord))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code, "landlord passes the permission check and reaches the handler")
}

func TestServer_PublicRoutes(t *testing.T) {
	deps, _ := newTestDeps()
	srv := server.New(":0", deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/listings/not-a-uuid", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code, "anonymous callers reach public handlers")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/public/listings/not-a-uuid", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "a bad token is rejected even on public routes")
}

func TestServer_DevIdentityOnlyInDevMode(t *testing.T) {
	deps, _ := newTestDeps()
	deps.DevIdentity = &auth.Identity{UserID: "7c1e7a52-6f2b-4c55-9d55-0d4f3f3f7a10", Role: auth.RoleLandlord, TokenType: "access"}

	for _, dev := range []bool{false, true} {
		deps.DevMode = dev
		srv := server.New(":0", deps)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/properties/not-a-uuid", nil)
		req.Header.Set("Authorization", "Bearer dev")
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)

		if dev {
			assert.Equal(t, http.StatusBadRequest, w.Code)
		} else {
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		}
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	deps, _ := newTestDeps()
	deps.CORSAllowedOrigins = []string{"https://app.ireside.test"}
	srv := server.New(":0", deps)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/properties", nil)
	req.Header.Set("Origin", "https://app.ireside.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "https://app.ireside.test", w.Header().Get("Access-Control-Allow-Origin"))
}
