package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ireside/ireside/internal/auth"
	"github.com/ireside/ireside/internal/platform/database/dbtest"
	"github.com/ireside/ireside/internal/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestIntegration_AuthRBACFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, _ := dbtest.Migrated(t)

	tokenSvc := auth.NewTokenService("integration-test-key-must-be-32!!", "ireside", 1, 720)
	handler := auth.NewHandler(auth.HandlerConfig{
		TokenSvc: tokenSvc,
		Accounts: auth.NewStoreWithCost(pool, bcrypt.MinCost),
		Families: auth.NewRefreshTokenStore(pool),
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	doPost := func(t *testing.T, path, body string) (int, map[string]any) {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		var resp map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		return w.Code, resp
	}

	code, resp := doPost(t, "/auth/signup",
		`{"email":"Tess@Example.com","password":"correct horse","full_name":"Tess Tenant","role":"tenant"}`)
	require.Equal(t, http.StatusCreated, code)
	signupRefresh := resp["refresh_token"].(string)

	code, resp = doPost(t, "/auth/login", `{"email":"tess@example.com","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, code)
	accessToken := resp["access_token"].(string)
	loginRefresh := resp["refresh_token"].(string)

	code, resp = doPost(t, "/auth/login", `{"email":"tess@example.com","password":"wrong password"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid credentials", resp["error"])

	engine := rbac.NewEvaluator(rbac.DefaultRoles())
	protected := auth.Middleware(tokenSvc)(
		rbac.RequirePermission(engine, "leases:sign")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := auth.GetIdentity(r.Context())
			assert.Equal(t, auth.RoleTenant, got.Role)
			assert.Equal(t, "tess@example.com", got.Email)
			w.WriteHeader(http.StatusOK)
		})))
	managed := auth.Middleware(tokenSvc)(
		rbac.RequirePermission(engine, "leases:manage")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	t.Run("tenant may sign", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+accessToken)
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("tenant may not manage leases", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+accessToken)
		w := httptest.NewRecorder()
		managed.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("refresh rotation and reuse detection", func(t *testing.T) {
		code, resp := doPost(t, "/auth/token/refresh", `{"refresh_token":"`+loginRefresh+`"}`)
		require.Equal(t, http.StatusOK, code)
		gen2 := resp["refresh_token"].(string)

		parsed, err := tokenSvc.ValidateToken(gen2)
		require.NoError(t, err)
		assert.Equal(t, 2, parsed.Generation)

		code, resp = doPost(t, "/auth/token/refresh", `{"refresh_token":"`+loginRefresh+`"}`)
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Equal(t, "refresh token reuse detected", resp["error"])

		code, _ = doPost(t, "/auth/token/refresh", `{"refresh_token":"`+gen2+`"}`)
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("logout revokes only its family", func(t *testing.T) {
		code, _ := doPost(t, "/auth/logout", `{"refresh_token":"`+signupRefresh+`"}`)
		require.Equal(t, http.StatusNoContent, code)

		code, _ = doPost(t, "/auth/token/refresh", `{"refresh_token":"`+signupRefresh+`"}`)
		assert.Equal(t, http.StatusUnauthorized, code)
	})
}
