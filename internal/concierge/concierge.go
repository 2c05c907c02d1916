// Package concierge answers tenant questions from a per-property knowledge
// base and keeps the chat history.
package concierge

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrEntryNotFound    = errors.New("knowledge base entry not found")
	ErrPropertyNotFound = errors.New("property not found")
	ErrDuplicateTitle   = errors.New("an entry with this title already exists for the property")
	ErrInvalidEntry     = errors.New("invalid knowledge base entry")
	ErrInvalidMessage   = errors.New("invalid message")
	ErrNoActiveLease    = errors.New("concierge requires an active lease")
	ErrBlocked          = errors.New("message was blocked")
)

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	DefaultCategory   = "general"
	MaxTitleLength    = 200
	MaxContentLength  = 10000
	MaxCategoryLength = 50
	MaxMessageLength  = 4000
)

// Entry is one piece of building information a landlord publishes to the
// concierge.
type Entry struct {
	ID         string    `json:"id"`
	PropertyID string    `json:"property_id"`
	LandlordID string    `json:"landlord_id"`
	Category   string    `json:"category"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EntryInput is the writable part of an entry. Updates replace all fields.
type EntryInput struct {
	Category string `json:"category" yaml:"category"`
	Title    string `json:"title" yaml:"title"`
	Content  string `json:"content" yaml:"content"`
}

// Validate trims the fields, lowercases the category and applies the default
// category.
func (in *EntryInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	if in.Category == "" {
		in.Category = DefaultCategory
	}

	switch {
	case in.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidEntry)
	case utf8.RuneCountInString(in.Title) > MaxTitleLength:
		return fmt.Errorf("%w: title must be at most %d characters", ErrInvalidEntry, MaxTitleLength)
	case in.Content == "":
		return fmt.Errorf("%w: content is required", ErrInvalidEntry)
	case utf8.RuneCountInString(in.Content) > MaxContentLength:
		return fmt.Errorf("%w: content must be at most %d characters", ErrInvalidEntry, MaxContentLength)
	case utf8.RuneCountInString(in.Category) > MaxCategoryLength:
		return fmt.Errorf("%w: category must be at most %d characters", ErrInvalidEntry, MaxCategoryLength)
	}
	return nil
}

// Message is one stored chat turn.
type Message struct {
	ID         string    `json:"id"`
	PropertyID string    `json:"property_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Flagged    bool      `json:"flagged"`
	FlagReason string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChatInput is a tenant question. PropertyID picks one of several leased
// properties and may be omitted.
type ChatInput struct {
	Message    string  `json:"message"`
	PropertyID *string `json:"property_id"`
}

func (in *ChatInput) Validate() error {
	in.Message = strings.TrimSpace(in.Message)
	if in.Message == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(in.Message) > MaxMessageLength {
		return fmt.Errorf("%w: message must be at most %d characters", ErrInvalidMessage, MaxMessageLength)
	}
	if in.PropertyID != nil && strings.TrimSpace(*in.PropertyID) == "" {
		in.PropertyID = nil
	}
	return nil
}

// Property is the leased property a chat is about.
type Property struct {
	ID   string
	Name string
}
