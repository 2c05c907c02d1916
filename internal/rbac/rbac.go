package rbac

import (
	"context"

	"github.com/ireside/ireside/internal/auth"
)

// Decision represents the result of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// PolicyEngine defines the authorization interface.
type PolicyEngine interface {
	// Authorize checks if the identity's role grants the action.
	Authorize(ctx context.Context, identity *auth.Identity, action string) (*Decision, error)
}

// DefaultRoles maps each profile role to its permissions. "*" grants
// everything and "resource:*" grants every action on a resource.
func DefaultRoles() map[string][]string {
	return map[string][]string{
		auth.RoleAdmin: {"*"},
		auth.RoleLandlord: {
			"properties:*",
			"units:*",
			"listings:write",
			"inquiries:manage",
			"leases:manage",
			"leases:read",
			"tickets:manage",
			"tickets:read",
			"messages:*",
			"kb:write",
			"kb:read",
			"notifications:read",
			"ai:use",
			"profile:*",
		},
		auth.RoleTenant: {
			"leases:read",
			"leases:sign",
			"tickets:create",
			"tickets:read",
			"messages:*",
			"concierge:chat",
			"inquiries:create",
			"notifications:read",
			"ai:use",
			"profile:*",
		},
	}
}
