// Package domain contains the snapshot entities produced by each
// aggregation run. Every run writes a fresh immutable snapshot keyed by
// calculation date; nothing here is the source of truth.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Windows are the fixed look-back windows, in days.
var Windows = []int{7, 30, 90}

// ValidPeriod reports whether periodDays is one of the configured windows.
func ValidPeriod(periodDays int) bool {
	for _, w := range Windows {
		if w == periodDays {
			return true
		}
	}
	return false
}

// TenantPeriodMetric is the aggregate for one tenant over one look-back
// window. A tenant with zero activity still gets a row with all-zero
// fields so consumers can tell "zero activity" from "not computed".
type TenantPeriodMetric struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	TenantID        string       `gorm:"column:tenant_id;uniqueIndex:idx_tenant_period_calc;not null"`
	PeriodDays      int          `gorm:"column:period_days;uniqueIndex:idx_tenant_period_calc;not null"`
	CalculationDate time.Time    `gorm:"column:calculation_date;uniqueIndex:idx_tenant_period_calc;not null"`
	WindowStart     time.Time    `gorm:"column:window_start"`
	WindowEnd       time.Time    `gorm:"column:window_end"`

	TotalConversations int `gorm:"column:total_conversations"`
	TotalMessages      int `gorm:"column:total_messages"`
	UniqueCustomers    int `gorm:"column:unique_customers"`

	BookingConversations       int `gorm:"column:booking_conversations"`
	RescheduleConversations    int `gorm:"column:reschedule_conversations"`
	InformationalConversations int `gorm:"column:informational_conversations"`
	CancellationConversations  int `gorm:"column:cancellation_conversations"`
	ModificationConversations  int `gorm:"column:modification_conversations"`
	AIFailureConversations     int `gorm:"column:ai_failure_conversations"`
	SpamConversations          int `gorm:"column:spam_conversations"`
	UnclassifiedConversations  int `gorm:"column:unclassified_conversations"`

	TotalAppointments       int `gorm:"column:total_appointments"`
	ConfirmedAppointments   int `gorm:"column:confirmed_appointments"`
	CompletedAppointments   int `gorm:"column:completed_appointments"`
	CancelledAppointments   int `gorm:"column:cancelled_appointments"`
	PendingAppointments     int `gorm:"column:pending_appointments"`
	NoShowAppointments      int `gorm:"column:no_show_appointments"`
	RescheduledAppointments int `gorm:"column:rescheduled_appointments"`
	OtherAppointments       int `gorm:"column:other_appointments"`

	TotalRevenue float64 `gorm:"column:total_revenue"`
	TotalTokens  int64   `gorm:"column:total_tokens"`
	TotalAICost  float64 `gorm:"column:total_ai_cost"`

	SuccessRate        float64 `gorm:"column:success_rate"`
	ConversionRate     float64 `gorm:"column:conversion_rate"`
	AvgDurationMinutes float64 `gorm:"column:avg_duration_minutes"`
	AvgConfidence      float64 `gorm:"column:avg_confidence"`

	// ComputationFailed marks a tenant whose window fetch failed after
	// retries. The row is present, loudly flagged, never omitted.
	ComputationFailed bool `gorm:"column:computation_failed"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (TenantPeriodMetric) TableName() string { return "tenant_period_metrics" }

// Active reports whether the tenant had any conversation or appointment
// in the window.
func (m TenantPeriodMetric) Active() bool {
	return m.TotalConversations+m.TotalAppointments > 0
}

// TenantParticipation is one tenant's share of each platform dimension,
// in percent of the platform total.
type TenantParticipation struct {
	TenantID          string  `json:"tenant_id"`
	RevenuePct        float64 `json:"revenue_pct"`
	AppointmentsPct   float64 `json:"appointments_pct"`
	CustomersPct      float64 `json:"customers_pct"`
	AIInteractionsPct float64 `json:"ai_interactions_pct"`
}

// PlatformPeriodMetric is the aggregate across all tenants for one
// window. Numeric fields are sums of the tenant metrics; each tenant is
// counted exactly once per window.
type PlatformPeriodMetric struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	PeriodDays      int          `gorm:"column:period_days;uniqueIndex:idx_platform_period_calc;not null"`
	CalculationDate time.Time    `gorm:"column:calculation_date;uniqueIndex:idx_platform_period_calc;not null"`
	WindowStart     time.Time    `gorm:"column:window_start"`
	WindowEnd       time.Time    `gorm:"column:window_end"`

	TotalConversations int `gorm:"column:total_conversations"`
	TotalMessages      int `gorm:"column:total_messages"`
	UniqueCustomers    int `gorm:"column:unique_customers"`

	BookingConversations       int `gorm:"column:booking_conversations"`
	RescheduleConversations    int `gorm:"column:reschedule_conversations"`
	InformationalConversations int `gorm:"column:informational_conversations"`
	CancellationConversations  int `gorm:"column:cancellation_conversations"`
	ModificationConversations  int `gorm:"column:modification_conversations"`
	AIFailureConversations     int `gorm:"column:ai_failure_conversations"`
	SpamConversations          int `gorm:"column:spam_conversations"`
	UnclassifiedConversations  int `gorm:"column:unclassified_conversations"`

	TotalAppointments int     `gorm:"column:total_appointments"`
	TotalRevenue      float64 `gorm:"column:total_revenue"`
	TotalTokens       int64   `gorm:"column:total_tokens"`
	TotalAICost       float64 `gorm:"column:total_ai_cost"`

	TotalTenants  int `gorm:"column:total_tenants"`
	ActiveTenants int `gorm:"column:active_tenants"`
	FailedTenants int `gorm:"column:failed_tenants"`

	PlatformHealthScore float64 `gorm:"column:platform_health_score"`

	// TenantBreakdown stores the per-tenant participation shares the
	// score was derived from, so dashboards can serve them without
	// recomputation.
	TenantBreakdown datatypes.JSON `gorm:"column:tenant_breakdown;type:jsonb"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (PlatformPeriodMetric) TableName() string { return "platform_period_metrics" }
