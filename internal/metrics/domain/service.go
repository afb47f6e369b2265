package domain

import (
	"context"
	"errors"
	"time"

	eventdomain "github.com/waybook/pulse/internal/eventstore/domain"
)

var (
	ErrInvalidPeriod = errors.New("invalid_period")
	ErrInvalidTenant = errors.New("invalid_tenant")
)

// ComputeOptions tunes one computation. The zero value gives the
// business-correct defaults.
type ComputeOptions struct {
	// AppointmentWindowField picks the appointment timestamp used for
	// windowing. Defaults to start_time.
	AppointmentWindowField eventdomain.WindowField
}

// RunSummary describes one full-platform aggregation run.
type RunSummary struct {
	CalculationDate time.Time
	TenantsComputed int
	TenantsFailed   int
	WindowsComputed int
}

type Service interface {
	// ComputeTenantMetrics computes one tenant's aggregate for one
	// window ending at now. Pure given fixed inputs and now.
	ComputeTenantMetrics(ctx context.Context, tenantID string, periodDays int, now time.Time) (TenantPeriodMetric, error)

	// ComputePlatformMetrics computes the platform-wide aggregate for
	// one window ending at now, including per-tenant participation.
	ComputePlatformMetrics(ctx context.Context, periodDays int, now time.Time) (PlatformPeriodMetric, error)

	// RunFullAggregation computes and persists tenant and platform
	// snapshots for every window. Cancellation is honored between
	// tenant units of work; a cancelled run never leaves a
	// half-computed tenant metric behind.
	RunFullAggregation(ctx context.Context, now time.Time) (RunSummary, error)
}
