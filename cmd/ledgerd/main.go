package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingledger/internal/clock"
	"github.com/smallbiznis/billingledger/internal/config"
	"github.com/smallbiznis/billingledger/internal/creditnote"
	"github.com/smallbiznis/billingledger/internal/events"
	"github.com/smallbiznis/billingledger/internal/invoice"
	"github.com/smallbiznis/billingledger/internal/ledger"
	"github.com/smallbiznis/billingledger/internal/logger"
	"github.com/smallbiznis/billingledger/internal/migration"
	"github.com/smallbiznis/billingledger/internal/observability"
	"github.com/smallbiznis/billingledger/internal/payment"
	"github.com/smallbiznis/billingledger/internal/pricing"
	"github.com/smallbiznis/billingledger/internal/recurring"
	"github.com/smallbiznis/billingledger/internal/scheduler"
	"github.com/smallbiznis/billingledger/internal/sequence"
	"github.com/smallbiznis/billingledger/internal/server"
	"github.com/smallbiznis/billingledger/pkg/db"
	"github.com/smallbiznis/billingledger/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	fx.New(appOptions()).Run()
}

func appOptions() fx.Option {
	return fx.Options(
		// Core Infrastructure
		fx.Provide(config.Load),
		fx.Provide(config.NewNumberingConfigHolder),
		logger.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		observability.Module,
		telemetry.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Ledger
		sequence.Module,
		pricing.Module,
		ledger.Module,
		events.Module,
		invoice.Module,
		payment.Module,
		creditnote.Module,
		recurring.Module,

		// Background work and ops surface
		scheduler.Module,
		server.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
