package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/waybook/pulse/internal/clock"
	"github.com/waybook/pulse/internal/config"
	"github.com/waybook/pulse/internal/conversation"
	"github.com/waybook/pulse/internal/eventstore"
	"github.com/waybook/pulse/internal/logger"
	"github.com/waybook/pulse/internal/metrics"
	"github.com/waybook/pulse/internal/migration"
	"github.com/waybook/pulse/internal/observability"
	"github.com/waybook/pulse/internal/scheduler"
	"github.com/waybook/pulse/internal/server"
	"github.com/waybook/pulse/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		eventstore.Module,
		conversation.Module,
		metrics.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
