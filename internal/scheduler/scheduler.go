// Package scheduler drives periodic full-platform aggregation runs.
// Runs are serialized: a tick that fires while the previous run is
// still in flight is skipped, never queued behind it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/waybook/pulse/internal/clock"
	metricsdomain "github.com/waybook/pulse/internal/metrics/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	Log        *zap.Logger
	MetricsSvc metricsdomain.Service
	Clock      clock.Clock
	Config     Config `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	metricsSvc metricsdomain.Service

	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.MetricsSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		metricsSvc: p.MetricsSvc,
	}, nil
}

// RunOnce executes one full aggregation pass under the job timeout.
// Concurrent invocations are collapsed: only one pass runs at a time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("aggregation run skipped, previous run still in flight")
		return nil
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	return s.runJob(parent, "full_aggregation", s.cfg.JobTimeout, func(ctx context.Context) error {
		summary, err := s.metricsSvc.RunFullAggregation(ctx, s.clock.Now())
		if err != nil {
			return err
		}
		s.log.Info("aggregation run finished",
			zap.Time("calculation_date", summary.CalculationDate),
			zap.Int("windows_computed", summary.WindowsComputed),
			zap.Int("tenants_computed", summary.TenantsComputed),
			zap.Int("tenants_failed", summary.TenantsFailed),
		)
		return nil
	})
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	log.Info("job started")

	err := fn(ctx)
	log.Info("job finished", zap.Duration("duration", s.clock.Now().Sub(start)))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	log.Error("job failed", zap.Error(err))
	return fmt.Errorf("%s: %w", name, err)
}

// Start registers the cron entry and begins ticking.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.cfg.CronSpec, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Error("scheduled aggregation failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: bad cron spec %q: %w", s.cfg.CronSpec, err)
	}
	s.cron = c
	c.Start()
	s.log.Info("scheduler started", zap.String("cron", s.cfg.CronSpec))

	if s.cfg.RunOnStart {
		go func() {
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error("startup aggregation failed", zap.Error(err))
			}
		}()
	}
	return nil
}

// Stop halts the cron and waits for an in-flight run to drain.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	drained := s.cron.Stop()
	<-drained.Done()
	s.log.Info("scheduler stopped")
}
