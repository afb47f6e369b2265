// Package domain contains the read models the aggregation core consumes.
// All three sources are produced by the messaging/booking pipeline and are
// read-only here.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// MessageEvent is one inbound or outbound chat message. AI-authored
// messages carry token/cost/confidence values; user messages never do.
type MessageEvent struct {
	ID                  string            `gorm:"primaryKey;type:uuid"`
	TenantID            string            `gorm:"column:tenant_id;index;not null"`
	UserID              *string           `gorm:"column:user_id"`
	ConversationContext datatypes.JSONMap `gorm:"column:conversation_context;type:jsonb"`
	CreatedAt           time.Time         `gorm:"column:created_at;index"`
	IsFromUser          bool              `gorm:"column:is_from_user"`
	ConversationOutcome *string           `gorm:"column:conversation_outcome"`
	TokensUsed          *int64            `gorm:"column:tokens_used"`
	APICostUSD          *float64          `gorm:"column:api_cost_usd"`
	ProcessingCostUSD   *float64          `gorm:"column:processing_cost_usd"`
	ConfidenceScore     *float64          `gorm:"column:confidence_score"`
}

func (MessageEvent) TableName() string { return "conversation_history" }

// Appointment statuses as written by the booking pipeline.
const (
	AppointmentStatusConfirmed   = "confirmed"
	AppointmentStatusCompleted   = "completed"
	AppointmentStatusCancelled   = "cancelled"
	AppointmentStatusPending     = "pending"
	AppointmentStatusNoShow      = "no_show"
	AppointmentStatusRescheduled = "rescheduled"
)

// AppointmentEvent is one booking record.
type AppointmentEvent struct {
	ID          string    `gorm:"primaryKey;type:uuid"`
	TenantID    string    `gorm:"column:tenant_id;index;not null"`
	Status      string    `gorm:"column:status"`
	QuotedPrice *float64  `gorm:"column:quoted_price"`
	FinalPrice  *float64  `gorm:"column:final_price"`
	StartTime   time.Time `gorm:"column:start_time;index"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	Source      string    `gorm:"column:source"`
}

func (AppointmentEvent) TableName() string { return "appointments" }

// Revenue derives the booked amount: final price when settled, quoted
// price as fallback, zero when neither is present. Never negative.
func (a AppointmentEvent) Revenue() float64 {
	var value float64
	switch {
	case a.FinalPrice != nil:
		value = *a.FinalPrice
	case a.QuotedPrice != nil:
		value = *a.QuotedPrice
	}
	if value < 0 {
		return 0
	}
	return value
}

// Tenant is a row of the tenant registry.
type Tenant struct {
	ID     string `gorm:"primaryKey;type:uuid"`
	Name   string `gorm:"column:name"`
	Status string `gorm:"column:status"`
}

func (Tenant) TableName() string { return "tenants" }
