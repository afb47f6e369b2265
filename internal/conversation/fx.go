package conversation

import (
	"github.com/waybook/pulse/internal/config"
	"github.com/waybook/pulse/internal/conversation/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("conversation",
	fx.Provide(func(log *zap.Logger, scoring *config.ScoringConfigHolder) *session.Reconstructor {
		return session.NewReconstructor(log, scoring.Get().FutureTolerance)
	}),
)
