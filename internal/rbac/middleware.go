package rbac

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/ireside/ireside/internal/auth"
)

// AuditLogger is the audit interface for RBAC denial logging.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent)
}

// AuditEvent captures an auditable action.
type AuditEvent struct {
	UserID       *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Metadata     map[string]any
	Source       string
}

// MiddlewareOption configures RBAC middleware behavior.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	audit AuditLogger
}

// WithAuditLogger attaches an audit logger to log RBAC denials.
func WithAuditLogger(logger AuditLogger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.audit = logger
	}
}

// RequirePermission returns middleware that checks if the authenticated user
// has the specified permission.
func RequirePermission(engine PolicyEngine, permission string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return RequireAnyPermission(engine, []string{permission}, opts...)
}

// RequireAnyPermission lets the request through when any one of permissions
// is granted. The denial reason refers to the first permission.
func RequireAnyPermission(engine PolicyEngine, permissions []string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	var mc middlewareConfig
	for _, opt := range opts {
		opt(&mc)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.GetIdentity(r.Context())
			if identity == nil {
				writeError(w, http.StatusUnauthorized, map[string]string{
					"error": "authentication required",
				})
				return
			}

			var denied *Decision
			for _, permission := range permissions {
				decision, err := engine.Authorize(r.Context(), identity, permission)
				if err != nil {
					writeError(w, http.StatusInternalServerError, map[string]string{
						"error": "authorization check failed",
					})
					return
				}
				if decision.Allowed {
					next.ServeHTTP(w, r)
					return
				}
				if denied == nil {
					denied = decision
				}
			}

			if denied == nil {
				denied = &Decision{Reason: "no permission required by route"}
			}
			if mc.audit != nil {
				evt := AuditEvent{
					Action: "access.denied",
					Metadata: map[string]any{
						"permission": strings.Join(permissions, "|"),
						"reason":     denied.Reason,
						"method":     r.Method,
						"path":       r.URL.Path,
					},
					Source: "api",
				}
				if uid, parseErr := uuid.Parse(identity.UserID); parseErr == nil {
					evt.UserID = &uid
				}
				mc.audit.Log(r.Context(), evt)
			}
			writeError(w, http.StatusForbidden, map[string]string{
				"error":  "forbidden",
				"reason": denied.Reason,
			})
		})
	}
}

func writeError(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
