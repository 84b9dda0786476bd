package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"investhub-platform/pkg/config"
	"investhub-platform/pkg/db"
	"investhub-platform/pkg/events"
	"investhub-platform/pkg/gen"
	"investhub-platform/pkg/hashistack/secretmanager"
	"investhub-platform/pkg/logger"
	"investhub-platform/pkg/otelcol"
	"investhub-platform/pkg/profiling"
	"investhub-platform/pkg/security"
	"investhub-platform/pkg/task"
	"investhub-platform/services/account"
	"investhub-platform/services/ledger"
	"investhub-platform/services/product"
	"investhub-platform/services/referral"
	"investhub-platform/services/worker"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		task.Client,
		task.Server,
		events.Module,
		security.Module,
		gen.Snowflake(gen.NodeWorker),
		fx.Provide(
			ledger.NewService,
			product.NewService,
			referral.NewService,
			account.NewService,
		),
		worker.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
