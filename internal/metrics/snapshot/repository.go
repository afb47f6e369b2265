// Package snapshot persists aggregation output. Re-running a window for
// the same calculation date replaces the previous snapshot in place:
// upserts are keyed, never appended.
package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	metricsdomain "github.com/waybook/pulse/internal/metrics/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Repository struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewRepository(p Params) *Repository {
	return &Repository{
		db:    p.DB,
		log:   p.Log.Named("metrics.snapshot"),
		genID: p.GenID,
	}
}

var tenantMetricUpdateColumns = []string{
	"window_start", "window_end",
	"total_conversations", "total_messages", "unique_customers",
	"booking_conversations", "reschedule_conversations", "informational_conversations",
	"cancellation_conversations", "modification_conversations", "ai_failure_conversations",
	"spam_conversations", "unclassified_conversations",
	"total_appointments", "confirmed_appointments", "completed_appointments",
	"cancelled_appointments", "pending_appointments", "no_show_appointments",
	"rescheduled_appointments", "other_appointments",
	"total_revenue", "total_tokens", "total_ai_cost",
	"success_rate", "conversion_rate", "avg_duration_minutes", "avg_confidence",
	"computation_failed", "updated_at",
}

// UpsertTenantMetrics writes tenant snapshots idempotently on
// (tenant_id, period_days, calculation_date).
func (r *Repository) UpsertTenantMetrics(ctx context.Context, rows []metricsdomain.TenantPeriodMetric) error {
	if len(rows) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for i := range rows {
		if rows[i].ID == 0 {
			rows[i].ID = r.genID.Generate()
		}
		if rows[i].CreatedAt.IsZero() {
			rows[i].CreatedAt = now
		}
		rows[i].UpdatedAt = now
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"},
			{Name: "period_days"},
			{Name: "calculation_date"},
		},
		DoUpdates: clause.AssignmentColumns(tenantMetricUpdateColumns),
	}).Create(&rows).Error
}

var platformMetricUpdateColumns = []string{
	"window_start", "window_end",
	"total_conversations", "total_messages", "unique_customers",
	"booking_conversations", "reschedule_conversations", "informational_conversations",
	"cancellation_conversations", "modification_conversations", "ai_failure_conversations",
	"spam_conversations", "unclassified_conversations",
	"total_appointments", "total_revenue", "total_tokens", "total_ai_cost",
	"total_tenants", "active_tenants", "failed_tenants",
	"platform_health_score", "tenant_breakdown", "updated_at",
}

// UpsertPlatformMetric writes one platform snapshot idempotently on
// (period_days, calculation_date).
func (r *Repository) UpsertPlatformMetric(ctx context.Context, row metricsdomain.PlatformPeriodMetric) error {
	now := time.Now().UTC()
	if row.ID == 0 {
		row.ID = r.genID.Generate()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "period_days"},
			{Name: "calculation_date"},
		},
		DoUpdates: clause.AssignmentColumns(platformMetricUpdateColumns),
	}).Create(&row).Error
}

// LatestTenantMetrics loads the most recent snapshot per window for one
// tenant.
func (r *Repository) LatestTenantMetrics(ctx context.Context, tenantID string) ([]metricsdomain.TenantPeriodMetric, error) {
	var rows []metricsdomain.TenantPeriodMetric
	for _, periodDays := range metricsdomain.Windows {
		var row metricsdomain.TenantPeriodMetric
		err := r.db.WithContext(ctx).
			Where("tenant_id = ? AND period_days = ?", tenantID, periodDays).
			Order("calculation_date DESC").
			First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LatestPlatformMetric loads the most recent platform snapshot for one
// window.
func (r *Repository) LatestPlatformMetric(ctx context.Context, periodDays int) (metricsdomain.PlatformPeriodMetric, error) {
	var row metricsdomain.PlatformPeriodMetric
	err := r.db.WithContext(ctx).
		Where("period_days = ?", periodDays).
		Order("calculation_date DESC").
		First(&row).Error
	return row, err
}
