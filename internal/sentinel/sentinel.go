// Package sentinel screens concierge messages for prompt injection before
// they reach the language model.
package sentinel

import "context"

// ScanInput is a message to screen.
type ScanInput struct {
	UserID     string
	PropertyID string
	Content    string
}

// ScanResult is the verdict on one message.
type ScanResult struct {
	Allowed    bool
	Score      float64 // 0.0 = safe, 1.0 = definite injection
	Reason     string  // e.g. "pattern:role_injection" or "llm:asks for other tenants' data"
	Quarantine bool    // allowed but stored flagged for review
}

// Flagged reports whether the message should be stored flagged.
func (r ScanResult) Flagged() bool {
	return !r.Allowed || r.Quarantine
}

// Sentinel screens user messages.
type Sentinel interface {
	Scan(ctx context.Context, input ScanInput) (ScanResult, error)
}

// NopSentinel allows every message.
type NopSentinel struct{}

func (NopSentinel) Scan(context.Context, ScanInput) (ScanResult, error) {
	return ScanResult{Allowed: true}, nil
}
