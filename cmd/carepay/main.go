package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/booking"
	"github.com/carepayhq/carepay/internal/clock"
	"github.com/carepayhq/carepay/internal/config"
	"github.com/carepayhq/carepay/internal/migration"
	"github.com/carepayhq/carepay/internal/notify"
	"github.com/carepayhq/carepay/internal/processor"
	"github.com/carepayhq/carepay/internal/provider"
	"github.com/carepayhq/carepay/internal/server"
	"github.com/carepayhq/carepay/internal/settings"
	"github.com/carepayhq/carepay/pkg/db"
	"github.com/carepayhq/carepay/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		migration.Module,
		clock.Module,
		settings.Module,
		notify.Module,
		processor.Module,

		booking.Module,
		provider.Module,
		server.Module,
	)
	app.Run()
}

func newSnowflakeNode() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
