package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/ireside/ireside/internal/auth"
)

// Event represents a single auditable action in the system.
type Event struct {
	UserID       *uuid.UUID // nil for system events
	Action       string     // e.g. "lease.signed", "access.denied"
	ResourceType string     // e.g. "lease", "listing", "ticket"
	ResourceID   *uuid.UUID
	Metadata     map[string]any
	Source       string // "api", "worker", "cli"
}

const (
	ActionAccessDenied = "access.denied"

	ActionProfileUpdated     = "profile.updated"
	ActionProfileRoleChanged = "profile.role_changed"

	ActionPropertyCreated = "property.created"
	ActionPropertyUpdated = "property.updated"
	ActionPropertyDeleted = "property.deleted"
	ActionUnitCreated     = "unit.created"
	ActionUnitUpdated     = "unit.updated"
	ActionUnitDeleted     = "unit.deleted"

	ActionListingCreated       = "listing.created"
	ActionListingUpdated       = "listing.updated"
	ActionListingPublished     = "listing.published"
	ActionListingArchived      = "listing.archived"
	ActionListingPhotoAdded    = "listing.photo_added"
	ActionListingPhotoDeleted  = "listing.photo_deleted"
	ActionListingPhotosOrdered = "listing.photos_reordered"

	ActionInquirySubmitted    = "inquiry.submitted"
	ActionInquiryTransitioned = "inquiry.transitioned"
	ActionInquiryConverted    = "inquiry.converted"

	ActionLeaseCreated    = "lease.created"
	ActionLeaseSent       = "lease.sent"
	ActionLeaseSigned     = "lease.signed"
	ActionLeaseActivated  = "lease.activated"
	ActionLeaseCancelled  = "lease.cancelled"
	ActionLeaseTerminated = "lease.terminated"
	ActionLeaseExpired    = "lease.expired"

	ActionTicketOpened     = "ticket.opened"
	ActionTicketUpdated    = "ticket.updated"
	ActionTicketCommented  = "ticket.commented"
	ActionTicketPhotoAdded = "ticket.photo_added"

	ActionConversationStarted = "conversation.started"

	ActionConciergeBlocked = "concierge.message_blocked"
	ActionKnowledgeChanged = "kb.changed"
)

const (
	SourceAPI    = "api"
	SourceWorker = "worker"
	SourceCLI    = "cli"
)

// Logger is the audit logging interface. Log is fire-and-forget.
type Logger interface {
	Log(ctx context.Context, event Event)
	Close() error
}

// NopLogger is a no-op audit logger for testing and when audit is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) {}
func (NopLogger) Close() error               { return nil }

// ActorIDFromContext extracts the authenticated user's UUID from the
// request context, returning nil if no identity is present or the
// user ID is not a valid UUID.
func ActorIDFromContext(ctx context.Context) *uuid.UUID {
	identity := auth.GetIdentity(ctx)
	if identity == nil {
		return nil
	}
	uid, err := uuid.Parse(identity.UserID)
	if err != nil {
		return nil
	}
	return &uid
}

// Record logs an API event attributed to the caller in ctx. A resourceID
// that is not a UUID is left out.
func Record(ctx context.Context, l Logger, action, resourceType, resourceID string, metadata map[string]any) {
	if l == nil {
		return
	}
	evt := Event{
		UserID:       ActorIDFromContext(ctx),
		Action:       action,
		ResourceType: resourceType,
		Metadata:     metadata,
		Source:       SourceAPI,
	}
	if rid, err := uuid.Parse(resourceID); err == nil {
		evt.ResourceID = &rid
	}
	l.Log(ctx, evt)
}
