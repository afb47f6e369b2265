package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/waybook/pulse/internal/config"
	convdomain "github.com/waybook/pulse/internal/conversation/domain"
	"github.com/waybook/pulse/internal/conversation/outcome"
	"github.com/waybook/pulse/internal/conversation/session"
	eventdomain "github.com/waybook/pulse/internal/eventstore/domain"
	metricsdomain "github.com/waybook/pulse/internal/metrics/domain"
	"github.com/waybook/pulse/internal/metrics/snapshot"
	obsmetrics "github.com/waybook/pulse/internal/observability/metrics"
	"github.com/waybook/pulse/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// maxConsecutiveSourceFailures is the point at which per-tenant failure
// isolation stops and the run is treated as systemically broken.
const maxConsecutiveSourceFailures = 3

type Params struct {
	fx.In

	Log           *zap.Logger
	Store         eventdomain.Store
	Scoring       *config.ScoringConfigHolder
	Snapshots     *snapshot.Repository         `optional:"true"`
	Metrics       *obsmetrics.Metrics          `optional:"true"`
	Options       metricsdomain.ComputeOptions `optional:"true"`
	Reconstructor *session.Reconstructor       `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	store     eventdomain.Store
	scoring   *config.ScoringConfigHolder
	snapshots *snapshot.Repository
	metrics   *obsmetrics.Metrics
	options   metricsdomain.ComputeOptions

	reconstructor *session.Reconstructor
}

func NewService(p Params) metricsdomain.Service {
	scoring := p.Scoring
	if scoring == nil {
		scoring = config.NewStaticScoringHolder(config.DefaultScoringConfig())
	}
	log := p.Log.Named("metrics.service")
	reconstructor := p.Reconstructor
	if reconstructor == nil {
		reconstructor = session.NewReconstructor(log, scoring.Get().FutureTolerance)
	}
	return &Service{
		log:           log,
		store:         p.Store,
		scoring:       scoring,
		snapshots:     p.Snapshots,
		metrics:       p.Metrics,
		options:       p.Options,
		reconstructor: reconstructor,
	}
}

func (s *Service) ComputeTenantMetrics(ctx context.Context, tenantID string, periodDays int, now time.Time) (metricsdomain.TenantPeriodMetric, error) {
	if strings.TrimSpace(tenantID) == "" {
		return metricsdomain.TenantPeriodMetric{}, metricsdomain.ErrInvalidTenant
	}
	if !metricsdomain.ValidPeriod(periodDays) {
		return metricsdomain.TenantPeriodMetric{}, metricsdomain.ErrInvalidPeriod
	}

	now = now.UTC()
	conversations, appointments, err := s.fetchTenantWindow(ctx, tenantID, periodDays, now)
	if err != nil {
		return metricsdomain.TenantPeriodMetric{}, err
	}

	return s.aggregate(tenantID, periodDays, now, conversations, appointments), nil
}

func (s *Service) ComputePlatformMetrics(ctx context.Context, periodDays int, now time.Time) (metricsdomain.PlatformPeriodMetric, error) {
	if !metricsdomain.ValidPeriod(periodDays) {
		return metricsdomain.PlatformPeriodMetric{}, metricsdomain.ErrInvalidPeriod
	}

	tenants, err := s.store.FetchTenants(ctx)
	if err != nil {
		return metricsdomain.PlatformPeriodMetric{}, err
	}

	tenantMetrics, err := s.computeWindow(ctx, tenants, periodDays, now.UTC())
	if err != nil {
		return metricsdomain.PlatformPeriodMetric{}, err
	}

	return s.rollup(periodDays, now.UTC(), len(tenants), tenantMetrics)
}

func (s *Service) RunFullAggregation(ctx context.Context, now time.Time) (metricsdomain.RunSummary, error) {
	now = now.UTC()
	summary := metricsdomain.RunSummary{CalculationDate: calculationDate(now)}

	tenants, err := s.store.FetchTenants(ctx)
	if err != nil {
		return summary, err
	}

	for _, periodDays := range metricsdomain.Windows {
		start := time.Now()

		tenantMetrics, err := s.computeWindow(ctx, tenants, periodDays, now)
		if err != nil {
			s.metrics.RecordAggregationRun(ctx, periodDays, "failed")
			return summary, fmt.Errorf("window %dd: %w", periodDays, err)
		}

		platform, err := s.rollup(periodDays, now, len(tenants), tenantMetrics)
		if err != nil {
			s.metrics.RecordAggregationRun(ctx, periodDays, "failed")
			return summary, fmt.Errorf("window %dd: %w", periodDays, err)
		}

		if s.snapshots != nil {
			if err := s.snapshots.UpsertTenantMetrics(ctx, tenantMetrics); err != nil {
				return summary, fmt.Errorf("persist tenant metrics %dd: %w", periodDays, err)
			}
			if err := s.snapshots.UpsertPlatformMetric(ctx, platform); err != nil {
				return summary, fmt.Errorf("persist platform metric %dd: %w", periodDays, err)
			}
		}

		summary.WindowsComputed++
		summary.TenantsComputed += len(tenantMetrics)
		summary.TenantsFailed += platform.FailedTenants

		s.metrics.RecordAggregationRun(ctx, periodDays, "completed")
		s.metrics.ObserveRunDuration(ctx, periodDays, time.Since(start))

		s.log.Info("window aggregated",
			zap.Int("period_days", periodDays),
			zap.Int("tenants", len(tenantMetrics)),
			zap.Int("failed_tenants", platform.FailedTenants),
			zap.Int("active_tenants", platform.ActiveTenants),
		)
	}

	return summary, nil
}

// computeWindow computes every tenant's metric for one window. Tenants
// are independent units of work: a single tenant's source failure is
// isolated and flagged, cancellation is honored between tenants, and
// systemic errors abort the whole window.
func (s *Service) computeWindow(ctx context.Context, tenants []eventdomain.Tenant, periodDays int, now time.Time) ([]metricsdomain.TenantPeriodMetric, error) {
	metrics := make([]metricsdomain.TenantPeriodMetric, 0, len(tenants))
	consecutiveFailures := 0

	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conversations, appointments, err := s.fetchTenantWindow(ctx, tenant.ID, periodDays, now)
		if err != nil {
			if errors.Is(err, eventdomain.ErrSchemaMismatch) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}

			consecutiveFailures++
			if consecutiveFailures >= maxConsecutiveSourceFailures {
				return nil, fmt.Errorf("aborting window after %d consecutive source failures: %w", consecutiveFailures, err)
			}

			s.log.Warn("tenant window computation failed",
				zap.String("tenant_id", tenant.ID),
				zap.Int("period_days", periodDays),
				zap.Error(err),
			)
			s.metrics.RecordTenantFailure(ctx, periodDays)

			failed := s.zeroMetric(tenant.ID, periodDays, now)
			failed.ComputationFailed = true
			metrics = append(metrics, failed)
			continue
		}
		consecutiveFailures = 0

		metric := s.aggregate(tenant.ID, periodDays, now, conversations, appointments)
		if metric.UnclassifiedConversations > 0 {
			s.metrics.RecordUnclassifiedOutcomes(ctx, metric.UnclassifiedConversations)
		}
		metrics = append(metrics, metric)
	}

	return metrics, nil
}

func (s *Service) fetchTenantWindow(ctx context.Context, tenantID string, periodDays int, now time.Time) ([]convdomain.Conversation, []eventdomain.AppointmentEvent, error) {
	ctx = tenantctx.WithTenantID(ctx, tenantID)
	start, end := windowRange(periodDays, now)

	messages, err := s.store.FetchMessages(ctx, eventdomain.MessageFilter{
		TenantID: tenantID,
		Start:    start,
		End:      end,
	})
	if err != nil {
		return nil, nil, err
	}

	appointments, err := s.store.FetchAppointments(ctx, eventdomain.AppointmentFilter{
		TenantID: tenantID,
		Start:    start,
		End:      end,
		Field:    s.options.AppointmentWindowField,
	})
	if err != nil {
		return nil, nil, err
	}

	conversations, report := s.reconstructor.Reconstruct(now, messages)
	s.metrics.RecordConversations(ctx, len(conversations))
	s.metrics.RecordInvalidTimestamps(ctx, report.InvalidTimestamps)

	return conversations, appointments, nil
}

// aggregate folds one tenant's conversations and appointments into a
// TenantPeriodMetric. Pure: no I/O, no clock reads.
func (s *Service) aggregate(tenantID string, periodDays int, now time.Time, conversations []convdomain.Conversation, appointments []eventdomain.AppointmentEvent) metricsdomain.TenantPeriodMetric {
	start, end := windowRange(periodDays, now)
	metric := s.zeroMetric(tenantID, periodDays, now)

	durationSum := 0.0
	confidenceSum := 0.0
	confidenceCount := 0
	customers := make(map[string]struct{})

	for _, conv := range conversations {
		if conv.StartTime.Before(start) || conv.StartTime.After(end) {
			continue
		}

		metric.TotalConversations++
		metric.TotalMessages += conv.MessageCount
		metric.TotalTokens += conv.TotalTokens
		metric.TotalAICost += conv.TotalCost()
		durationSum += conv.DurationMinutes
		if conv.AvgConfidence > 0 {
			confidenceSum += conv.AvgConfidence
			confidenceCount++
		}
		if conv.UserID != "" {
			customers[conv.UserID] = struct{}{}
		}

		// Conversations that never resolved an outcome stay outside
		// every category: total_conversations minus the category sum
		// is exactly the "no resolvable outcome" count.
		if !conv.HasOutcome() {
			continue
		}
		switch outcome.Classify(conv.Outcome) {
		case outcome.CategoryBooking:
			metric.BookingConversations++
		case outcome.CategoryReschedule:
			metric.RescheduleConversations++
		case outcome.CategoryInformational:
			metric.InformationalConversations++
		case outcome.CategoryCancellation:
			metric.CancellationConversations++
		case outcome.CategoryModification:
			metric.ModificationConversations++
		case outcome.CategoryAIFailure:
			metric.AIFailureConversations++
		case outcome.CategorySpam:
			metric.SpamConversations++
		default:
			metric.UnclassifiedConversations++
		}
	}
	metric.UniqueCustomers = len(customers)

	for _, appt := range appointments {
		metric.TotalAppointments++
		metric.TotalRevenue += appt.Revenue()

		switch appt.Status {
		case eventdomain.AppointmentStatusConfirmed:
			metric.ConfirmedAppointments++
		case eventdomain.AppointmentStatusCompleted:
			metric.CompletedAppointments++
		case eventdomain.AppointmentStatusCancelled:
			metric.CancelledAppointments++
		case eventdomain.AppointmentStatusPending:
			metric.PendingAppointments++
		case eventdomain.AppointmentStatusNoShow:
			metric.NoShowAppointments++
		case eventdomain.AppointmentStatusRescheduled:
			metric.RescheduledAppointments++
		default:
			metric.OtherAppointments++
		}
	}

	metric.SuccessRate = rate(metric.ConfirmedAppointments+metric.CompletedAppointments, metric.TotalAppointments)
	metric.ConversionRate = rate(metric.BookingConversations, metric.TotalConversations)
	if metric.TotalConversations > 0 {
		metric.AvgDurationMinutes = durationSum / float64(metric.TotalConversations)
	}
	if confidenceCount > 0 {
		metric.AvgConfidence = confidenceSum / float64(confidenceCount)
	}

	return metric
}

// rollup sums tenant metrics into the platform aggregate and derives
// participation shares and the health score.
func (s *Service) rollup(periodDays int, now time.Time, totalTenants int, tenantMetrics []metricsdomain.TenantPeriodMetric) (metricsdomain.PlatformPeriodMetric, error) {
	start, end := windowRange(periodDays, now)
	platform := metricsdomain.PlatformPeriodMetric{
		PeriodDays:      periodDays,
		CalculationDate: calculationDate(now),
		WindowStart:     start,
		WindowEnd:       end,
		TotalTenants:    totalTenants,
	}

	for _, m := range tenantMetrics {
		if m.ComputationFailed {
			platform.FailedTenants++
			continue
		}

		platform.TotalConversations += m.TotalConversations
		platform.TotalMessages += m.TotalMessages
		platform.UniqueCustomers += m.UniqueCustomers
		platform.BookingConversations += m.BookingConversations
		platform.RescheduleConversations += m.RescheduleConversations
		platform.InformationalConversations += m.InformationalConversations
		platform.CancellationConversations += m.CancellationConversations
		platform.ModificationConversations += m.ModificationConversations
		platform.AIFailureConversations += m.AIFailureConversations
		platform.SpamConversations += m.SpamConversations
		platform.UnclassifiedConversations += m.UnclassifiedConversations
		platform.TotalAppointments += m.TotalAppointments
		platform.TotalRevenue += m.TotalRevenue
		platform.TotalTokens += m.TotalTokens
		platform.TotalAICost += m.TotalAICost

		if m.Active() {
			platform.ActiveTenants++
		}
	}

	participations := participationShares(platform, tenantMetrics)
	platform.PlatformHealthScore = s.healthScore(platform, participations)

	breakdown, err := json.Marshal(participations)
	if err != nil {
		return metricsdomain.PlatformPeriodMetric{}, err
	}
	platform.TenantBreakdown = breakdown

	return platform, nil
}

// participationShares computes each active tenant's share of the
// platform totals, in percent. A dimension with a zero platform total
// contributes zero shares rather than NaN.
func participationShares(platform metricsdomain.PlatformPeriodMetric, tenantMetrics []metricsdomain.TenantPeriodMetric) []metricsdomain.TenantParticipation {
	shares := make([]metricsdomain.TenantParticipation, 0, len(tenantMetrics))
	for _, m := range tenantMetrics {
		if m.ComputationFailed || !m.Active() {
			continue
		}
		shares = append(shares, metricsdomain.TenantParticipation{
			TenantID:          m.TenantID,
			RevenuePct:        share(m.TotalRevenue, platform.TotalRevenue),
			AppointmentsPct:   share(float64(m.TotalAppointments), float64(platform.TotalAppointments)),
			CustomersPct:      share(float64(m.UniqueCustomers), float64(platform.UniqueCustomers)),
			AIInteractionsPct: share(float64(m.TotalConversations), float64(platform.TotalConversations)),
		})
	}
	return shares
}

// healthScore is the weighted composite over average participation
// shares. The weights are policy constants, monotonic in each input.
func (s *Service) healthScore(platform metricsdomain.PlatformPeriodMetric, shares []metricsdomain.TenantParticipation) float64 {
	if len(shares) == 0 {
		return 0
	}

	var revenueAvg, appointmentsAvg, customersAvg, aiAvg float64
	for _, p := range shares {
		revenueAvg += p.RevenuePct
		appointmentsAvg += p.AppointmentsPct
		customersAvg += p.CustomersPct
		aiAvg += p.AIInteractionsPct
	}
	n := float64(len(shares))
	revenueAvg /= n
	appointmentsAvg /= n
	customersAvg /= n
	aiAvg /= n

	cfg := s.scoring.Get()
	score := cfg.RevenueWeight*revenueAvg +
		cfg.AppointmentsWeight*appointmentsAvg +
		cfg.CustomersWeight*customersAvg +
		cfg.AIInteractionsWeight*aiAvg

	return clampRate(score)
}

func (s *Service) zeroMetric(tenantID string, periodDays int, now time.Time) metricsdomain.TenantPeriodMetric {
	start, end := windowRange(periodDays, now)
	return metricsdomain.TenantPeriodMetric{
		TenantID:        tenantID,
		PeriodDays:      periodDays,
		CalculationDate: calculationDate(now),
		WindowStart:     start,
		WindowEnd:       end,
	}
}

func windowRange(periodDays int, now time.Time) (time.Time, time.Time) {
	end := now
	start := now.AddDate(0, 0, -periodDays)
	return start, end
}

func calculationDate(now time.Time) time.Time {
	year, month, day := now.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// rate is numerator/denominator in percent, defined as 0 when the
// denominator is 0. Never NaN, never outside [0,100].
func rate(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return clampRate(float64(numerator) / float64(denominator) * 100)
}

func share(value, total float64) float64 {
	if total == 0 {
		return 0
	}
	return clampRate(value / total * 100)
}

func clampRate(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
