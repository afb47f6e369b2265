package metrics

import (
	"github.com/waybook/pulse/internal/metrics/service"
	"github.com/waybook/pulse/internal/metrics/snapshot"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(
		snapshot.NewRepository,
		service.NewService,
	),
)
