package logger

import (
	"context"

	"github.com/smallbiznis/billingledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewFromConfig(appCfg config.Config) (*zap.Logger, error) {
	return New(Options{
		Service:     appCfg.AppName,
		Environment: appCfg.Environment,
		Level:       appCfg.LogLevel,
	})
}

func registerHooks(lc fx.Lifecycle, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
}

// Module wires the global zap logger for the application.
var Module = fx.Module("logger",
	fx.Provide(
		NewFromConfig,
	),
	fx.Invoke(registerHooks),
)
