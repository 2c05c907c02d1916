package rbac_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ireside/ireside/internal/auth"
	"github.com/ireside/ireside/internal/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setIdentity(r *http.Request, identity *auth.Identity) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), identity))
}

type recordingAudit struct {
	mu     sync.Mutex
	events []rbac.AuditEvent
}

func (a *recordingAudit) Log(_ context.Context, e rbac.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func TestRBACMiddleware_Allowed(t *testing.T) {
	eval := rbac.NewEvaluator(rbac.DefaultRoles())

	handler := rbac.RequirePermission(eval, "leases:read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = setIdentity(req, &auth.Identity{UserID: "user-123", Role: auth.RoleTenant})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRBACMiddleware_Denied(t *testing.T) {
	eval := rbac.NewEvaluator(rbac.DefaultRoles())
	audit := &recordingAudit{}

	handler := rbac.RequirePermission(eval, "leases:manage", rbac.WithAuditLogger(audit))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/leases", nil)
	req = setIdentity(req, &auth.Identity{UserID: "0b8e4c2a-5d1f-4f0e-9a57-1c2d3e4f5a6b", Role: auth.RoleTenant})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)

	var body map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "forbidden", body["error"])
	assert.Contains(t, body["reason"], "leases:manage")

	require.Len(t, audit.events, 1)
	evt := audit.events[0]
	assert.Equal(t, "access.denied", evt.Action)
	require.NotNil(t, evt.UserID)
	assert.Equal(t, "0b8e4c2a-5d1f-4f0e-9a57-1c2d3e4f5a6b", evt.UserID.String())
	assert.Equal(t, "leases:manage", evt.Metadata["permission"])
	assert.Equal(t, "/api/v1/leases", evt.Metadata["path"])
}

func TestRBACMiddleware_NoIdentity(t *testing.T) {
	eval := rbac.NewEvaluator(rbac.DefaultRoles())

	handler := rbac.RequirePermission(eval, "leases:read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRBACMiddleware_RequireAny(t *testing.T) {
	eval := rbac.NewEvaluator(rbac.DefaultRoles())

	handler := rbac.RequireAnyPermission(eval, []string{"tickets:create", "tickets:manage"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	for role, want := range map[string]int{
		auth.RoleTenant:   http.StatusCreated,
		auth.RoleLandlord: http.StatusCreated,
		auth.RoleAdmin:    http.StatusCreated,
		"visitor":         http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets", nil)
		req = setIdentity(req, &auth.Identity{UserID: "u", Role: role})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, role)
	}
}
