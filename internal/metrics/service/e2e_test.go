package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/waybook/pulse/internal/config"
	eventdomain "github.com/waybook/pulse/internal/eventstore/domain"
	"github.com/waybook/pulse/internal/eventstore/repository"
	metricsdomain "github.com/waybook/pulse/internal/metrics/domain"
	"github.com/waybook/pulse/internal/metrics/snapshot"
	"github.com/waybook/pulse/internal/seed"
	"github.com/waybook/pulse/pkg/db"
	"go.uber.org/zap"
)

// TestAggregationAgainstDatabase runs the whole pipeline on a real
// database: seeded events in, persisted snapshots out.
func TestAggregationAgainstDatabase(t *testing.T) {
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(
		&eventdomain.Tenant{},
		&eventdomain.MessageEvent{},
		&eventdomain.AppointmentEvent{},
		&metricsdomain.TenantPeriodMetric{},
		&metricsdomain.PlatformPeriodMetric{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := seed.EnsureDemoData(conn); err != nil {
		t.Fatalf("seed: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	log := zap.NewNop()

	store := repository.NewStore(repository.Params{DB: conn, Log: log})
	snapshots := snapshot.NewRepository(snapshot.Params{DB: conn, Log: log, GenID: node})
	svc := NewService(Params{
		Log:       log,
		Store:     store,
		Scoring:   config.NewStaticScoringHolder(config.DefaultScoringConfig()),
		Snapshots: snapshots,
	})

	now := time.Now().UTC()
	summary, err := svc.RunFullAggregation(context.Background(), now)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.WindowsComputed != len(metricsdomain.Windows) {
		t.Fatalf("expected %d windows, got %d", len(metricsdomain.Windows), summary.WindowsComputed)
	}
	if summary.TenantsFailed != 0 {
		t.Fatalf("expected no failed tenants, got %d", summary.TenantsFailed)
	}

	barber, err := svc.ComputeTenantMetrics(context.Background(), "demo-barbershop", 7, now)
	if err != nil {
		t.Fatalf("compute barber: %v", err)
	}
	// Seed data: one booked conversation, one abandoned without outcome.
	if barber.TotalConversations != 2 {
		t.Fatalf("expected 2 conversations, got %d", barber.TotalConversations)
	}
	if barber.BookingConversations != 1 {
		t.Fatalf("expected 1 booking, got %d", barber.BookingConversations)
	}
	// Only the completed appointment's start time falls inside the
	// window; the confirmed one is in the future.
	if barber.TotalAppointments != 1 || barber.TotalRevenue != 40 {
		t.Fatalf("unexpected appointments: %+v", barber)
	}

	platform, err := snapshots.LatestPlatformMetric(context.Background(), 7)
	if err != nil {
		t.Fatalf("load platform snapshot: %v", err)
	}
	if platform.TotalTenants != 2 {
		t.Fatalf("expected 2 tenants, got %d", platform.TotalTenants)
	}
	if platform.TotalConversations != 3 {
		t.Fatalf("expected 3 conversations platform-wide, got %d", platform.TotalConversations)
	}

	rows, err := snapshots.LatestTenantMetrics(context.Background(), "demo-spa")
	if err != nil {
		t.Fatalf("load spa snapshots: %v", err)
	}
	if len(rows) != len(metricsdomain.Windows) {
		t.Fatalf("expected a snapshot per window, got %d", len(rows))
	}
}
