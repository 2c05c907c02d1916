// Package maintenance tracks repair tickets raised on units by tenants and
// landlords.
package maintenance

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrUnitNotFound      = errors.New("unit not found")
	ErrPhotoNotFound     = errors.New("photo not found")
	ErrInvalidTicket     = errors.New("invalid ticket")
	ErrInvalidComment    = errors.New("invalid comment")
	ErrInvalidTransition = errors.New("invalid ticket transition")
	ErrNotAllowed        = errors.New("change not allowed for this participant")
	ErrVersionConflict   = errors.New("ticket was modified by someone else")
	ErrTooManyPhotos     = errors.New("ticket photo limit reached")
)

// Ticket statuses.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

// Ticket priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

const (
	DefaultCategory = "general"
	MaxPhotos       = 10
)

// Ticket is a maintenance request on one unit.
type Ticket struct {
	ID          string     `json:"id"`
	UnitID      string     `json:"unit_id"`
	PropertyID  string     `json:"property_id"`
	LandlordID  string     `json:"landlord_id"`
	TenantID    *string    `json:"tenant_id"`
	OpenedBy    string     `json:"opened_by"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	Version     int        `json:"version"`
	ResolvedAt  *time.Time `json:"resolved_at"`
	ClosedAt    *time.Time `json:"closed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Detail is a ticket with its comments and photos.
type Detail struct {
	*Ticket
	Comments []Comment `json:"comments"`
	Photos   []Photo   `json:"photos"`
}

// OtherParty returns the participant to notify about a change made by
// actorID, or "" when the ticket has no tenant.
func (t *Ticket) OtherParty(actorID string) string {
	if actorID != t.LandlordID {
		return t.LandlordID
	}
	if t.TenantID == nil {
		return ""
	}
	return *t.TenantID
}

type Comment struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"ticket_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

type Photo struct {
	ID          string    `json:"id"`
	TicketID    string    `json:"ticket_id"`
	UploadedBy  string    `json:"uploaded_by"`
	ObjectKey   string    `json:"-"`
	ContentType string    `json:"content_type"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}

// PhotoURL is the authenticated path a ticket photo is served from.
func PhotoURL(ticketID, photoID string) string {
	return "/api/v1/tickets/" + ticketID + "/photos/" + photoID
}

// ConflictError reports a stale version and carries the ticket as stored.
type ConflictError struct {
	Current *Ticket
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: current version is %d", ErrVersionConflict, e.Current.Version)
}

func (e *ConflictError) Unwrap() error { return ErrVersionConflict }

// Filter narrows a ticket listing.
type Filter struct {
	Status     string
	Priority   string
	PropertyID string
	Limit      int
	Offset     int
}

// OpenInput is the body of a new ticket.
type OpenInput struct {
	UnitID      string `json:"unit_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Priority    string `json:"priority"`
}

// Validate trims text and applies the default category and priority.
func (in *OpenInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	if in.Category == "" {
		in.Category = DefaultCategory
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}

	if err := validateTitle(in.Title); err != nil {
		return err
	}
	if err := validateDescription(in.Description); err != nil {
		return err
	}
	if err := validateCategory(in.Category); err != nil {
		return err
	}
	return validatePriority(in.Priority)
}

// UpdateInput changes a ticket. Version must match the stored version; nil
// fields are left unchanged.
type UpdateInput struct {
	Version     int     `json:"version"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	Priority    *string `json:"priority"`
	Status      *string `json:"status"`
}

// Validate trims text and checks enumerations.
func (in *UpdateInput) Validate() error {
	if in.Version <= 0 {
		return fmt.Errorf("%w: version is required", ErrInvalidTicket)
	}
	if in.Title != nil {
		s := strings.TrimSpace(*in.Title)
		if err := validateTitle(s); err != nil {
			return err
		}
		in.Title = &s
	}
	if in.Description != nil {
		s := strings.TrimSpace(*in.Description)
		if err := validateDescription(s); err != nil {
			return err
		}
		in.Description = &s
	}
	if in.Category != nil {
		s := strings.ToLower(strings.TrimSpace(*in.Category))
		if err := validateCategory(s); err != nil {
			return err
		}
		in.Category = &s
	}
	if in.Priority != nil {
		if err := validatePriority(*in.Priority); err != nil {
			return err
		}
	}
	if in.Status != nil && !ValidStatus(*in.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTicket, *in.Status)
	}
	return nil
}

func (in *UpdateInput) editsDetails() bool {
	return in.Title != nil || in.Description != nil || in.Category != nil || in.Priority != nil
}

func validateTitle(s string) error {
	if s == "" || utf8.RuneCountInString(s) > 200 {
		return fmt.Errorf("%w: title must be 1-200 characters", ErrInvalidTicket)
	}
	return nil
}

func validateDescription(s string) error {
	if utf8.RuneCountInString(s) > 10000 {
		return fmt.Errorf("%w: description must be at most 10000 characters", ErrInvalidTicket)
	}
	return nil
}

func validateCategory(s string) error {
	if s == "" || utf8.RuneCountInString(s) > 50 {
		return fmt.Errorf("%w: category must be 1-50 characters", ErrInvalidTicket)
	}
	return nil
}

func validatePriority(p string) error {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return nil
	}
	return fmt.Errorf("%w: priority must be low, medium, high or urgent", ErrInvalidTicket)
}

// ValidStatus reports whether s is a ticket status.
func ValidStatus(s string) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// NormalizeComment trims a comment body and checks its length.
func NormalizeComment(body string) (string, error) {
	s := strings.TrimSpace(body)
	if s == "" || utf8.RuneCountInString(s) > 5000 {
		return "", fmt.Errorf("%w: body must be 1-5000 characters", ErrInvalidComment)
	}
	return s, nil
}

var transitions = map[string][]string{
	StatusOpen:       {StatusInProgress, StatusClosed},
	StatusInProgress: {StatusResolved},
	StatusResolved:   {StatusClosed, StatusInProgress},
}

// CanTransition reports whether a ticket may move from one status to
// another.
func CanTransition(from, to string) bool {
	return slices.Contains(transitions[from], to)
}

// CanParticipantTransition applies CanTransition plus the participant rule:
// the landlord drives the workflow, the tenant may only close a resolved
// ticket.
func CanParticipantTransition(isLandlord bool, from, to string) bool {
	if !CanTransition(from, to) {
		return false
	}
	return isLandlord || (from == StatusResolved && to == StatusClosed)
}
