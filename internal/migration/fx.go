// Package migration creates the snapshot tables on startup. The source
// event tables belong to the booking platform and are never migrated
// here, except in development where they are created and seeded so the
// service runs against a local database out of the box.
package migration

import (
	"github.com/waybook/pulse/internal/config"
	eventdomain "github.com/waybook/pulse/internal/eventstore/domain"
	metricsdomain "github.com/waybook/pulse/internal/metrics/domain"
	"github.com/waybook/pulse/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if err := conn.AutoMigrate(
			&metricsdomain.TenantPeriodMetric{},
			&metricsdomain.PlatformPeriodMetric{},
		); err != nil {
			return err
		}

		if cfg.Environment != "development" {
			return nil
		}

		if err := conn.AutoMigrate(
			&eventdomain.Tenant{},
			&eventdomain.MessageEvent{},
			&eventdomain.AppointmentEvent{},
		); err != nil {
			return err
		}
		return seed.EnsureDemoData(conn)
	}),
)
