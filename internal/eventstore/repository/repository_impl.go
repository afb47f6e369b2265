package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/waybook/pulse/internal/eventstore/domain"
	"github.com/waybook/pulse/pkg/db"
	"github.com/waybook/pulse/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config bounds the paginated fetch loop. The original scripts hand-rolled
// range() pagination with no retry; this is the single shared primitive
// that replaces them.
type Config struct {
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	return c
}

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Config Config `optional:"true"`
}

type Store struct {
	db  *gorm.DB
	log *zap.Logger
	cfg Config
}

func NewStore(p Params) domain.Store {
	return &Store{
		db:  p.DB,
		log: p.Log.Named("eventstore.repository"),
		cfg: p.Config.withDefaults(),
	}
}

// Columns are selected explicitly so a renamed column surfaces as a
// schema mismatch instead of silently scanning zero values.
var messageColumns = []string{
	"id",
	"tenant_id",
	"user_id",
	"conversation_context",
	"created_at",
	"is_from_user",
	"conversation_outcome",
	"tokens_used",
	"api_cost_usd",
	"processing_cost_usd",
	"confidence_score",
}

var appointmentColumns = []string{
	"id",
	"tenant_id",
	"status",
	"quoted_price",
	"final_price",
	"start_time",
	"created_at",
	"source",
}

func (s *Store) FetchMessages(ctx context.Context, filter domain.MessageFilter) ([]domain.MessageEvent, error) {
	var all []domain.MessageEvent

	err := s.drainPages(ctx, "messages", func(limit, offset int) (int, error) {
		query := s.db.WithContext(ctx).
			Model(&domain.MessageEvent{}).
			Select(messageColumns).
			Order("created_at ASC, id ASC").
			Limit(limit).
			Offset(offset)
		if filter.TenantID != "" {
			query = query.Where("tenant_id = ?", filter.TenantID)
		}
		if !filter.Start.IsZero() {
			query = query.Where("created_at >= ?", filter.Start)
		}
		if !filter.End.IsZero() {
			query = query.Where("created_at <= ?", filter.End)
		}

		var page []domain.MessageEvent
		if err := query.Find(&page).Error; err != nil {
			return 0, err
		}
		all = append(all, page...)
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

func (s *Store) FetchAppointments(ctx context.Context, filter domain.AppointmentFilter) ([]domain.AppointmentEvent, error) {
	column := filter.Field.Column()

	var all []domain.AppointmentEvent
	err := s.drainPages(ctx, "appointments", func(limit, offset int) (int, error) {
		query := s.db.WithContext(ctx).
			Model(&domain.AppointmentEvent{}).
			Select(appointmentColumns).
			Order(column + " ASC, id ASC").
			Limit(limit).
			Offset(offset)
		if filter.TenantID != "" {
			query = query.Where("tenant_id = ?", filter.TenantID)
		}
		if !filter.Start.IsZero() {
			query = query.Where(column+" >= ?", filter.Start)
		}
		if !filter.End.IsZero() {
			query = query.Where(column+" <= ?", filter.End)
		}

		var page []domain.AppointmentEvent
		if err := query.Find(&page).Error; err != nil {
			return 0, err
		}
		all = append(all, page...)
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

func (s *Store) FetchTenants(ctx context.Context) ([]domain.Tenant, error) {
	var all []domain.Tenant
	err := s.drainPages(ctx, "tenants", func(limit, offset int) (int, error) {
		var page []domain.Tenant
		if err := s.db.WithContext(ctx).
			Model(&domain.Tenant{}).
			Select("id", "name", "status").
			Order("id ASC").
			Limit(limit).
			Offset(offset).
			Find(&page).Error; err != nil {
			return 0, err
		}
		all = append(all, page...)
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// drainPages follows continuation pages until a short page, retrying each
// page with exponential backoff. A partially fetched window is never
// returned: any page failing after retries fails the whole fetch.
func (s *Store) drainPages(ctx context.Context, source string, fetchPage func(limit, offset int) (int, error)) error {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var fetched int
		err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
			n, err := fetchPage(s.cfg.BatchSize, offset)
			if err != nil {
				if db.IsMissingColumnErr(err) {
					return err
				}
				fields := []zap.Field{
					zap.String("source", source),
					zap.Int("offset", offset),
					zap.Error(err),
				}
				if tenantID, ok := tenantctx.TenantID(ctx); ok {
					fields = append(fields, zap.String("tenant_id", tenantID))
				}
				s.log.Warn("page fetch failed, retrying", fields...)
				return retry.RetryableError(err)
			}
			fetched = n
			return nil
		})
		if err != nil {
			return s.classify(source, err)
		}

		if fetched < s.cfg.BatchSize {
			return nil
		}
		offset += s.cfg.BatchSize
	}
}

func (s *Store) backoff() retry.Backoff {
	return retry.WithMaxRetries(uint64(s.cfg.MaxAttempts-1), retry.NewExponential(s.cfg.InitialBackoff))
}

func (s *Store) classify(source string, err error) error {
	if db.IsMissingColumnErr(err) {
		s.log.Error("read model schema drifted", zap.String("source", source), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", domain.ErrSchemaMismatch, source, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrSourceUnavailable, source, err)
}
