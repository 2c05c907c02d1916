// Package notification stores in-app notifications as a transactional outbox
// and delivers them over the realtime bus.
package notification

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidNotification  = errors.New("invalid notification")
)

// Notification kinds.
const (
	KindInquiryReceived = "inquiry.received"
	KindLeaseSent       = "lease.sent"
	KindLeaseSigned     = "lease.signed"
	KindLeaseActivated  = "lease.activated"
	KindLeaseCancelled  = "lease.cancelled"
	KindLeaseTerminated = "lease.terminated"
	KindLeaseExpired    = "lease.expired"
	KindTicketOpened    = "ticket.opened"
	KindTicketUpdated   = "ticket.updated"
	KindTicketComment   = "ticket.commented"
	KindMessageReceived = "message.received"
)

// Delivery states of the outbox row.
const (
	DeliveryPending = "pending"
	DeliverySending = "sending"
	DeliverySent    = "sent"
	DeliveryDead    = "dead"
)

// Notification is a message for one user, written in the same transaction
// as the change that caused it.
type Notification struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Kind           string          `json:"kind"`
	Title          string          `json:"title"`
	Body           string          `json:"body"`
	Data           json.RawMessage `json:"data"`
	ReadAt         *time.Time      `json:"read_at"`
	DeliveryStatus string          `json:"delivery_status"`
	AttemptCount   int             `json:"-"`
	MaxAttempts    int             `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Draft is a notification to enqueue.
type Draft struct {
	UserID string
	Kind   string
	Title  string
	Body   string
	Data   map[string]any
}
