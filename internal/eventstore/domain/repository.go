package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSourceUnavailable means the backing store could not be reached
	// after bounded retries. Aborts the affected window only.
	ErrSourceUnavailable = errors.New("source_unavailable")

	// ErrSchemaMismatch means an expected column is missing or renamed.
	// Fatal for the whole batch: guessing would corrupt aggregates.
	ErrSchemaMismatch = errors.New("schema_mismatch")
)

// MessageFilter scopes a message fetch. A zero TenantID selects all
// tenants; Start/End bound created_at inclusively.
type MessageFilter struct {
	TenantID string
	Start    time.Time
	End      time.Time
}

// AppointmentFilter scopes an appointment fetch. Field selects which
// timestamp column the window applies to.
type AppointmentFilter struct {
	TenantID string
	Start    time.Time
	End      time.Time
	Field    WindowField
}

// WindowField selects the appointment timestamp used for windowing.
// The business-correct default is start_time (when the service was
// rendered); created_at gives creation-based accounting.
type WindowField string

const (
	WindowFieldStartTime WindowField = "start_time"
	WindowFieldCreatedAt WindowField = "created_at"
)

func (f WindowField) Column() string {
	if f == WindowFieldCreatedAt {
		return "created_at"
	}
	return "start_time"
}

// Store is read-only access to the three event sources. Implementations
// must drain every continuation page: callers always need the complete
// result set for a window.
type Store interface {
	FetchMessages(ctx context.Context, filter MessageFilter) ([]MessageEvent, error)
	FetchAppointments(ctx context.Context, filter AppointmentFilter) ([]AppointmentEvent, error)
	FetchTenants(ctx context.Context) ([]Tenant, error)
}
