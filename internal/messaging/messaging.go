// Package messaging carries direct conversations between a landlord and a
// tenant.
package messaging

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrPropertyNotFound     = errors.New("property not found")
	ErrInvalidConversation  = errors.New("invalid conversation")
	ErrInvalidMessage       = errors.New("invalid message")
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Conversation is a thread between one landlord and one tenant, optionally
// about a property.
type Conversation struct {
	ID            string     `json:"id"`
	LandlordID    string     `json:"landlord_id"`
	TenantID      string     `json:"tenant_id"`
	PropertyID    *string    `json:"property_id"`
	Subject       string     `json:"subject"`
	LastMessageAt *time.Time `json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UnreadCount   int        `json:"unread_count"`
}

// Recipient returns the participant who is not senderID.
func (c *Conversation) Recipient(senderID string) string {
	if senderID == c.LandlordID {
		return c.TenantID
	}
	return c.LandlordID
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Body           string     `json:"body"`
	ReadAt         *time.Time `json:"read_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// StartInput opens or finds a conversation with another user.
type StartInput struct {
	ParticipantID string  `json:"participant_id"`
	PropertyID    *string `json:"property_id"`
	Subject       string  `json:"subject"`
}

func (in *StartInput) Validate() error {
	in.Subject = strings.TrimSpace(in.Subject)
	if utf8.RuneCountInString(in.Subject) > 200 {
		return fmt.Errorf("%w: subject must be at most 200 characters", ErrInvalidConversation)
	}
	if in.PropertyID != nil && *in.PropertyID == "" {
		in.PropertyID = nil
	}
	return nil
}

// NormalizeBody trims a message body and checks its length.
func NormalizeBody(body string) (string, error) {
	s := strings.TrimSpace(body)
	if s == "" || utf8.RuneCountInString(s) > 10000 {
		return "", fmt.Errorf("%w: body must be 1-10000 characters", ErrInvalidMessage)
	}
	return s, nil
}
