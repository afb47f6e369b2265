package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/waybook/pulse/internal/config"
	eventdomain "github.com/waybook/pulse/internal/eventstore/domain"
	metricsdomain "github.com/waybook/pulse/internal/metrics/domain"
	"github.com/waybook/pulse/internal/metrics/snapshot"
	"github.com/waybook/pulse/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type storeStub struct {
	tenants      []eventdomain.Tenant
	messages     map[string][]eventdomain.MessageEvent
	appointments map[string][]eventdomain.AppointmentEvent

	failTenants map[string]error
	tenantErr   error

	messageCalls int
}

func newStoreStub() *storeStub {
	return &storeStub{
		messages:     make(map[string][]eventdomain.MessageEvent),
		appointments: make(map[string][]eventdomain.AppointmentEvent),
		failTenants:  make(map[string]error),
	}
}

func (s *storeStub) FetchMessages(ctx context.Context, filter eventdomain.MessageFilter) ([]eventdomain.MessageEvent, error) {
	s.messageCalls++
	if err := s.failTenants[filter.TenantID]; err != nil {
		return nil, err
	}
	var out []eventdomain.MessageEvent
	for _, m := range s.messages[filter.TenantID] {
		if !filter.Start.IsZero() && m.CreatedAt.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && m.CreatedAt.After(filter.End) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *storeStub) FetchAppointments(ctx context.Context, filter eventdomain.AppointmentFilter) ([]eventdomain.AppointmentEvent, error) {
	if err := s.failTenants[filter.TenantID]; err != nil {
		return nil, err
	}
	var out []eventdomain.AppointmentEvent
	for _, a := range s.appointments[filter.TenantID] {
		at := a.StartTime
		if filter.Field == eventdomain.WindowFieldCreatedAt {
			at = a.CreatedAt
		}
		if !filter.Start.IsZero() && at.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && at.After(filter.End) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *storeStub) FetchTenants(ctx context.Context) ([]eventdomain.Tenant, error) {
	if s.tenantErr != nil {
		return nil, s.tenantErr
	}
	return s.tenants, nil
}

func (s *storeStub) addTenant(id string) {
	s.tenants = append(s.tenants, eventdomain.Tenant{ID: id, Name: id, Status: "active"})
}

func (s *storeStub) addConversation(tenantID, userID string, at time.Time, outcome string, messageCount int) {
	sessionID := uuid.NewString()
	for i := 0; i < messageCount; i++ {
		m := eventdomain.MessageEvent{
			ID:                  uuid.NewString(),
			TenantID:            tenantID,
			ConversationContext: datatypes.JSONMap{"session_id": sessionID},
			CreatedAt:           at.Add(time.Duration(i) * time.Minute),
		}
		if userID != "" {
			m.UserID = &userID
		}
		if i == messageCount-1 && outcome != "" {
			m.ConversationOutcome = &outcome
		}
		s.messages[tenantID] = append(s.messages[tenantID], m)
	}
}

func (s *storeStub) addAppointment(tenantID, status string, at time.Time, quoted, final *float64) {
	s.appointments[tenantID] = append(s.appointments[tenantID], eventdomain.AppointmentEvent{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Status:      status,
		StartTime:   at,
		CreatedAt:   at.Add(-24 * time.Hour),
		QuotedPrice: quoted,
		FinalPrice:  final,
	})
}

func f64(v float64) *float64 { return &v }

func newTestService(t *testing.T, store eventdomain.Store, snapshots *snapshot.Repository) metricsdomain.Service {
	t.Helper()
	return NewService(Params{
		Log:       zap.NewNop(),
		Store:     store,
		Scoring:   config.NewStaticScoringHolder(config.DefaultScoringConfig()),
		Snapshots: snapshots,
	})
}

func testSnapshots(t *testing.T) *snapshot.Repository {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&metricsdomain.TenantPeriodMetric{}, &metricsdomain.PlatformPeriodMetric{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	return snapshot.NewRepository(snapshot.Params{DB: conn, Log: zap.NewNop(), GenID: node})
}

var testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func TestComputeTenantMetricsValidation(t *testing.T) {
	svc := newTestService(t, newStoreStub(), nil)

	if _, err := svc.ComputeTenantMetrics(context.Background(), "", 7, testNow); !errors.Is(err, metricsdomain.ErrInvalidTenant) {
		t.Fatalf("expected invalid tenant, got %v", err)
	}
	if _, err := svc.ComputeTenantMetrics(context.Background(), "t1", 14, testNow); !errors.Is(err, metricsdomain.ErrInvalidPeriod) {
		t.Fatalf("expected invalid period, got %v", err)
	}
}

func TestComputeTenantMetricsZeroActivity(t *testing.T) {
	store := newStoreStub()
	store.addTenant("t1")
	svc := newTestService(t, store, nil)

	metric, err := svc.ComputeTenantMetrics(context.Background(), "t1", 7, testNow)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	if metric.TotalConversations != 0 || metric.TotalAppointments != 0 {
		t.Fatalf("expected zero activity, got %+v", metric)
	}
	if metric.SuccessRate != 0 || metric.ConversionRate != 0 || metric.AvgDurationMinutes != 0 {
		t.Fatalf("expected zero rates, got %+v", metric)
	}
	if metric.ComputationFailed {
		t.Fatal("zero activity must not be flagged as failed")
	}
}

func TestComputeTenantMetricsCountsAndRates(t *testing.T) {
	store := newStoreStub()
	store.addTenant("t1")
	base := testNow.Add(-48 * time.Hour)

	store.addConversation("t1", "+100", base, "appointment_created", 3)
	store.addConversation("t1", "+100", base.Add(time.Hour), "price_inquiry", 2)
	store.addConversation("t1", "+200", base.Add(2*time.Hour), "spam_detected", 1)
	store.addConversation("t1", "+300", base.Add(3*time.Hour), "", 2)

	store.addAppointment("t1", eventdomain.AppointmentStatusConfirmed, base, f64(30), nil)
	store.addAppointment("t1", eventdomain.AppointmentStatusCompleted, base.Add(time.Hour), f64(30), f64(45))
	store.addAppointment("t1", eventdomain.AppointmentStatusCancelled, base.Add(2*time.Hour), nil, nil)
	store.addAppointment("t1", "mystery_status", base.Add(3*time.Hour), nil, nil)

	svc := newTestService(t, store, nil)
	metric, err := svc.ComputeTenantMetrics(context.Background(), "t1", 7, testNow)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	if metric.TotalConversations != 4 {
		t.Fatalf("expected 4 conversations, got %d", metric.TotalConversations)
	}
	if metric.BookingConversations != 1 || metric.InformationalConversations != 1 || metric.SpamConversations != 1 {
		t.Fatalf("unexpected category counts: %+v", metric)
	}

	// The outcome-less conversation counts toward the total only.
	categorySum := metric.BookingConversations + metric.RescheduleConversations +
		metric.InformationalConversations + metric.CancellationConversations +
		metric.ModificationConversations + metric.AIFailureConversations +
		metric.SpamConversations + metric.UnclassifiedConversations
	if categorySum != 3 {
		t.Fatalf("expected category sum 3, got %d", categorySum)
	}

	if metric.UniqueCustomers != 3 {
		t.Fatalf("expected 3 unique customers, got %d", metric.UniqueCustomers)
	}

	if metric.TotalAppointments != 4 || metric.OtherAppointments != 1 {
		t.Fatalf("unexpected appointment counts: %+v", metric)
	}

	// Final price wins over quoted; quoted is the fallback.
	if metric.TotalRevenue != 30+45 {
		t.Fatalf("expected revenue 75, got %v", metric.TotalRevenue)
	}

	if metric.SuccessRate != 50 {
		t.Fatalf("expected success rate 50, got %v", metric.SuccessRate)
	}
	if metric.ConversionRate != 25 {
		t.Fatalf("expected conversion rate 25, got %v", metric.ConversionRate)
	}
}

func TestComputeTenantMetricsRateBounds(t *testing.T) {
	store := newStoreStub()
	store.addTenant("t1")
	base := testNow.Add(-24 * time.Hour)

	for i := 0; i < 5; i++ {
		store.addConversation("t1", fmt.Sprintf("+%d", i), base.Add(time.Duration(i)*time.Hour), "appointment_created", 2)
	}
	for i := 0; i < 3; i++ {
		store.addAppointment("t1", eventdomain.AppointmentStatusCompleted, base.Add(time.Duration(i)*time.Hour), f64(10), nil)
	}

	svc := newTestService(t, store, nil)
	metric, err := svc.ComputeTenantMetrics(context.Background(), "t1", 30, testNow)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	for name, v := range map[string]float64{
		"success_rate":    metric.SuccessRate,
		"conversion_rate": metric.ConversionRate,
	} {
		if v < 0 || v > 100 {
			t.Fatalf("%s out of bounds: %v", name, v)
		}
	}
	if metric.SuccessRate != 100 || metric.ConversionRate != 100 {
		t.Fatalf("expected both rates at 100, got %+v", metric)
	}
}

func TestComputeTenantMetricsWindowExclusion(t *testing.T) {
	store := newStoreStub()
	store.addTenant("t1")

	store.addConversation("t1", "+100", testNow.Add(-2*24*time.Hour), "appointment_created", 2)
	store.addConversation("t1", "+100", testNow.Add(-10*24*time.Hour), "appointment_created", 2)
	store.addAppointment("t1", eventdomain.AppointmentStatusConfirmed, testNow.Add(-2*24*time.Hour), f64(10), nil)
	store.addAppointment("t1", eventdomain.AppointmentStatusConfirmed, testNow.Add(-10*24*time.Hour), f64(10), nil)

	svc := newTestService(t, store, nil)

	week, err := svc.ComputeTenantMetrics(context.Background(), "t1", 7, testNow)
	if err != nil {
		t.Fatalf("compute 7d: %v", err)
	}
	if week.TotalConversations != 1 || week.TotalAppointments != 1 {
		t.Fatalf("7d window leaked rows: %+v", week)
	}

	month, err := svc.ComputeTenantMetrics(context.Background(), "t1", 30, testNow)
	if err != nil {
		t.Fatalf("compute 30d: %v", err)
	}
	if month.TotalConversations != 2 || month.TotalAppointments != 2 {
		t.Fatalf("30d window wrong: %+v", month)
	}
}

func TestComputePlatformMetricsParticipation(t *testing.T) {
	store := newStoreStub()
	store.addTenant("t1")
	store.addTenant("t2")
	base := testNow.Add(-24 * time.Hour)

	// t1 takes 75% of revenue, t2 the remaining 25%.
	store.addAppointment("t1", eventdomain.AppointmentStatusCompleted, base, nil, f64(75))
	store.addAppointment("t2", eventdomain.AppointmentStatusCompleted, base, nil, f64(25))

	svc := newTestService(t, store, nil)
	platform, err := svc.ComputePlatformMetrics(context.Background(), 7, testNow)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	if platform.TotalTenants != 2 || platform.ActiveTenants != 2 {
		t.Fatalf("unexpected tenant counts: %+v", platform)
	}
	if platform.TotalRevenue != 100 {
		t.Fatalf("expected platform revenue 100, got %v", platform.TotalRevenue)
	}

	var shares []metricsdomain.TenantParticipation
	if err := json.Unmarshal(platform.TenantBreakdown, &shares); err != nil {
		t.Fatalf("decode breakdown: %v", err)
	}
	if len(shares) != 2 {
		t.Fatalf("expected 2 shares, got %d", len(shares))
	}

	byTenant := make(map[string]metricsdomain.TenantParticipation)
	for _, s := range shares {
		byTenant[s.TenantID] = s
	}
	if byTenant["t1"].RevenuePct != 75 || byTenant["t2"].RevenuePct != 25 {
		t.Fatalf("unexpected revenue shares: %+v", byTenant)
	}

	// Health score is a convex combination of averages of shares that
	// sum to 100 per dimension, so it stays within [0,100].
	if platform.PlatformHealthScore < 0 || platform.PlatformHealthScore > 100 {
		t.Fatalf("health score out of bounds: %v", platform.PlatformHealthScore)
	}
}

func TestComputePlatformMetricsEmptyPlatform(t *testing.T) {
	store := newStoreStub()
	store.addTenant("t1")
	store.addTenant("t2")

	svc := newTestService(t, store, nil)
	platform, err := svc.ComputePlatformMetrics(context.Background(), 7, testNow)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	if platform.ActiveTenants != 0 {
		t.Fatalf("expected no active tenants, got %d", platform.ActiveTenants)
	}
	if platform.PlatformHealthScore != 0 {
		t.Fatalf("expected zero health score, got %v", platform.PlatformHealthScore)
	}
}

func TestPlatformSumsEqualTenantSums(t *testing.T) {
	store := newStoreStub()
	base := testNow.Add(-24 * time.Hour)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("t%d", i)
		store.addTenant(id)
		store.addConversation(id, "+1", base, "appointment_created", 2)
		store.addAppointment(id, eventdomain.AppointmentStatusConfirmed, base, f64(float64(10*(i+1))), nil)
	}

	svc := newTestService(t, store, nil)

	var wantConvs, wantAppts int
	var wantRevenue float64
	for i := 0; i < 3; i++ {
		metric, err := svc.ComputeTenantMetrics(context.Background(), fmt.Sprintf("t%d", i), 7, testNow)
		if err != nil {
			t.Fatalf("compute tenant %d: %v", i, err)
		}
		wantConvs += metric.TotalConversations
		wantAppts += metric.TotalAppointments
		wantRevenue += metric.TotalRevenue
	}

	platform, err := svc.ComputePlatformMetrics(context.Background(), 7, testNow)
	if err != nil {
		t.Fatalf("compute platform: %v", err)
	}

	if platform.TotalConversations != wantConvs || platform.TotalAppointments != wantAppts {
		t.Fatalf("platform counts diverge: %+v vs %d/%d", platform, wantConvs, wantAppts)
	}
	if platform.TotalRevenue != wantRevenue {
		t.Fatalf("platform revenue diverges: %v vs %v", platform.TotalRevenue, wantRevenue)
	}
}

func TestTenantFailureIsolation(t *testing.T) {
	store := newStoreStub()
	store.addTenant("ok")
	store.addTenant("broken")
	store.addTenant("ok2")
	base := testNow.Add(-24 * time.Hour)

	store.addConversation("ok", "+1", base, "appointment_created", 2)
	store.addConversation("ok2", "+2", base, "price_inquiry", 2)
	store.failTenants["broken"] = fmt.Errorf("%w: messages: boom", eventdomain.ErrSourceUnavailable)

	svc := newTestService(t, store, nil)
	platform, err := svc.ComputePlatformMetrics(context.Background(), 7, testNow)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	if platform.FailedTenants != 1 {
		t.Fatalf("expected 1 failed tenant, got %d", platform.FailedTenants)
	}
	// Failed tenant contributes nothing to the sums.
	if platform.TotalConversations != 2 {
		t.Fatalf("expected 2 conversations from healthy tenants, got %d", platform.TotalConversations)
	}
}

func TestConsecutiveFailuresAbortRun(t *testing.T) {
	store := newStoreStub()
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("t%d", i)
		store.addTenant(id)
		store.failTenants[id] = fmt.Errorf("%w: messages: boom", eventdomain.ErrSourceUnavailable)
	}

	svc := newTestService(t, store, nil)
	_, err := svc.ComputePlatformMetrics(context.Background(), 7, testNow)
	if err == nil {
		t.Fatal("expected run abort after consecutive failures")
	}
	if !errors.Is(err, eventdomain.ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable cause, got %v", err)
	}
}

func TestSchemaMismatchAbortsImmediately(t *testing.T) {
	store := newStoreStub()
	store.addTenant("first")
	store.addTenant("second")
	store.failTenants["first"] = fmt.Errorf("%w: messages: drift", eventdomain.ErrSchemaMismatch)

	svc := newTestService(t, store, nil)
	_, err := svc.ComputePlatformMetrics(context.Background(), 7, testNow)
	if !errors.Is(err, eventdomain.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch abort, got %v", err)
	}
}

func TestRunFullAggregationPersistsSnapshots(t *testing.T) {
	store := newStoreStub()
	store.addTenant("t1")
	store.addConversation("t1", "+1", testNow.Add(-24*time.Hour), "appointment_created", 2)
	store.addAppointment("t1", eventdomain.AppointmentStatusCompleted, testNow.Add(-24*time.Hour), nil, f64(50))

	snapshots := testSnapshots(t)
	svc := newTestService(t, store, snapshots)

	summary, err := svc.RunFullAggregation(context.Background(), testNow)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.WindowsComputed != len(metricsdomain.Windows) {
		t.Fatalf("expected %d windows, got %d", len(metricsdomain.Windows), summary.WindowsComputed)
	}
	if summary.TenantsComputed != len(metricsdomain.Windows) {
		t.Fatalf("expected one tenant per window, got %d", summary.TenantsComputed)
	}

	rows, err := snapshots.LatestTenantMetrics(context.Background(), "t1")
	if err != nil {
		t.Fatalf("load snapshots: %v", err)
	}
	if len(rows) != len(metricsdomain.Windows) {
		t.Fatalf("expected a snapshot per window, got %d", len(rows))
	}

	platform, err := snapshots.LatestPlatformMetric(context.Background(), 7)
	if err != nil {
		t.Fatalf("load platform snapshot: %v", err)
	}
	if platform.TotalRevenue != 50 {
		t.Fatalf("expected persisted revenue 50, got %v", platform.TotalRevenue)
	}
}

func TestRunFullAggregationIdempotent(t *testing.T) {
	store := newStoreStub()
	store.addTenant("t1")
	store.addConversation("t1", "+1", testNow.Add(-24*time.Hour), "appointment_created", 2)

	snapshots := testSnapshots(t)
	svc := newTestService(t, store, snapshots)

	if _, err := svc.RunFullAggregation(context.Background(), testNow); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := svc.RunFullAggregation(context.Background(), testNow); err != nil {
		t.Fatalf("second run: %v", err)
	}

	rows, err := snapshots.LatestTenantMetrics(context.Background(), "t1")
	if err != nil {
		t.Fatalf("load snapshots: %v", err)
	}
	// Re-running the same calculation date replaces rows in place.
	if len(rows) != len(metricsdomain.Windows) {
		t.Fatalf("expected %d snapshots after rerun, got %d", len(metricsdomain.Windows), len(rows))
	}
}

func TestRunFullAggregationHonorsCancellation(t *testing.T) {
	store := newStoreStub()
	store.addTenant("t1")

	svc := newTestService(t, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.RunFullAggregation(ctx, testNow); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
