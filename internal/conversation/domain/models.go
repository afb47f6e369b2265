// Package domain holds the Conversation value object. Conversations are
// never stored by the event producers; they are reconstructed from raw
// message rows on every aggregation run.
package domain

import "time"

// Conversation is the set of messages sharing one session id within one
// tenant, collapsed into a single business entity.
type Conversation struct {
	SessionID       string
	TenantID        string
	UserID          string
	StartTime       time.Time
	EndTime         time.Time
	DurationMinutes float64
	MessageCount    int
	TotalTokens     int64
	TotalAPICost    float64
	TotalProcCost   float64
	AvgConfidence   float64

	// Outcome is the resolved raw label: the last non-null label in
	// chronological order. Empty when no message carried one.
	Outcome string
}

// TotalCost is the AI spend attributed to the conversation.
func (c Conversation) TotalCost() float64 {
	return c.TotalAPICost + c.TotalProcCost
}

// HasOutcome reports whether any message resolved an outcome label.
func (c Conversation) HasOutcome() bool {
	return c.Outcome != ""
}
