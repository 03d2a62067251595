package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/ngtluan2k/NextMarket-sub001/internal/allocation"
	"github.com/ngtluan2k/NextMarket-sub001/internal/attribution"
	"github.com/ngtluan2k/NextMarket-sub001/internal/audit"
	"github.com/ngtluan2k/NextMarket-sub001/internal/clock"
	"github.com/ngtluan2k/NextMarket-sub001/internal/config"
	"github.com/ngtluan2k/NextMarket-sub001/internal/events"
	"github.com/ngtluan2k/NextMarket-sub001/internal/fraud"
	"github.com/ngtluan2k/NextMarket-sub001/internal/migration"
	"github.com/ngtluan2k/NextMarket-sub001/internal/observability"
	"github.com/ngtluan2k/NextMarket-sub001/internal/order"
	"github.com/ngtluan2k/NextMarket-sub001/internal/program"
	"github.com/ngtluan2k/NextMarket-sub001/internal/referral"
	"github.com/ngtluan2k/NextMarket-sub001/internal/reversal"
	"github.com/ngtluan2k/NextMarket-sub001/internal/rule"
	"github.com/ngtluan2k/NextMarket-sub001/internal/scheduler"
	"github.com/ngtluan2k/NextMarket-sub001/internal/seed"
	"github.com/ngtluan2k/NextMarket-sub001/internal/server"
	"github.com/ngtluan2k/NextMarket-sub001/internal/wallet"
	"github.com/ngtluan2k/NextMarket-sub001/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		fx.Invoke(RunMigrations),
		seed.Module,
		fx.Invoke(RunSeed),

		// Domain services
		referral.Module,
		rule.Module,
		program.Module,
		order.Module,
		wallet.Module,
		events.Module,
		audit.Module,
		attribution.Module,
		fraud.Module,
		allocation.Module,
		reversal.Module,
		scheduler.Module,

		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) {
			s.RegisterAPIRoutes()
		}),
		fx.Invoke(server.RunHTTP),
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

func RunMigrations(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return migration.RunMigrations(sqlDB)
}

func RunSeed(seeder *seed.Seeder) error {
	return seeder.Run(context.Background())
}
