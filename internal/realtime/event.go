// Package realtime fans change events out to connected websocket clients.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrBusClosed is returned when publishing on or subscribing to a closed bus.
var ErrBusClosed = errors.New("realtime bus closed")

// Topics group events by the resource they describe.
const (
	TopicNotifications = "notifications"
	TopicMessages      = "messages"
	TopicTickets       = "tickets"
	TopicLeases        = "leases"
)

// Event is a change addressed to a set of users.
type Event struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	UserIDs []string        `json:"user_ids"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// NewEvent marshals payload and stamps the event with the current time.
func NewEvent(topic, eventType string, userIDs []string, payload any) (Event, error) {
	e := Event{Topic: topic, Type: eventType, UserIDs: userIDs, At: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encoding %s payload: %w", eventType, err)
		}
		e.Payload = raw
	}
	return e, nil
}
