package eventstore

import (
	"github.com/waybook/pulse/internal/eventstore/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("eventstore",
	fx.Provide(repository.NewStore),
)
