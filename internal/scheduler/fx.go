package scheduler

import (
	"context"

	"github.com/waybook/pulse/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(RunScheduler),
)

func ProvideConfig(cfg config.Config) Config {
	return Config{
		CronSpec:   cfg.AggregationCron,
		RunOnStart: cfg.AggregateOnStart,
	}.withDefaults()
}

func RunScheduler(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if cfg.AggregationCron == "" {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			if err := sched.Start(ctx); err != nil {
				cancel()
				return err
			}

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					sched.Stop()
					return nil
				},
			})

			return nil
		},
	})
}
