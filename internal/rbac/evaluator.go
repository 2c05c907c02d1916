package rbac

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ireside/ireside/internal/auth"
)

// Evaluator is the in-memory RBAC policy evaluation engine.
type Evaluator struct {
	roles map[string][]string // roleName → permissions
	mu    sync.RWMutex
}

// NewEvaluator creates an evaluator seeded with roles. Pass nil for an empty one.
func NewEvaluator(roles map[string][]string) *Evaluator {
	e := &Evaluator{roles: make(map[string][]string, len(roles))}
	for name, perms := range roles {
		e.roles[name] = append([]string(nil), perms...)
	}
	return e
}

// RegisterRole adds or replaces a role and its permissions.
func (e *Evaluator) RegisterRole(name string, permissions []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.roles[name] = append([]string(nil), permissions...)
}

// Permissions returns a copy of the permissions granted to role.
func (e *Evaluator) Permissions(role string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.roles[role]...)
}

// Authorize checks if the identity's role grants the action. Deny by default.
func (e *Evaluator) Authorize(_ context.Context, identity *auth.Identity, action string) (*Decision, error) {
	if identity == nil {
		return &Decision{Allowed: false, Reason: "no identity"}, nil
	}

	if e.checkRolePermissions(identity.Role, action) {
		return &Decision{Allowed: true}, nil
	}

	return &Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("role %q has no permission for %s", identity.Role, action),
	}, nil
}

func (e *Evaluator) checkRolePermissions(role, action string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	perms, ok := e.roles[role]
	if !ok {
		return false
	}
	for _, perm := range perms {
		if permits(perm, action) {
			return true
		}
	}
	return false
}

func permits(perm, action string) bool {
	if perm == "*" || perm == action {
		return true
	}
	if prefix, ok := strings.CutSuffix(perm, ":*"); ok {
		resource, _, found := strings.Cut(action, ":")
		return found && resource == prefix
	}
	return false
}
