package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"investhub-platform/pkg/config"
	"investhub-platform/pkg/db"
	"investhub-platform/pkg/events"
	"investhub-platform/pkg/gen"
	"investhub-platform/pkg/hashistack/secretmanager"
	"investhub-platform/pkg/hashistack/servicediscover"
	"investhub-platform/pkg/health"
	"investhub-platform/pkg/logger"
	"investhub-platform/pkg/otelcol"
	"investhub-platform/pkg/profiling"
	"investhub-platform/pkg/redis"
	"investhub-platform/pkg/security"
	"investhub-platform/pkg/sequence"
	"investhub-platform/pkg/server"
	"investhub-platform/pkg/task"
	"investhub-platform/services/account"
	"investhub-platform/services/admin"
	"investhub-platform/services/ledger"
	"investhub-platform/services/product"
	"investhub-platform/services/referral"
	"investhub-platform/services/settlement"
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
		redis.Module,
		task.Client,
		sequence.Module,
		events.Module,
		security.Module,
		gen.Snowflake(gen.NodePlatform),
		fx.Invoke(migrate),
		server.ProvideHTTPServer,
		health.Module,
		servicediscover.Module,
		ledger.Module,
		product.Module,
		referral.Module,
		account.Module,
		settlement.Module,
		admin.Module,
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

func migrate(conn *gorm.DB) error {
	var models []any
	models = append(models, ledger.Models()...)
	models = append(models, product.Models()...)
	models = append(models, referral.Models()...)
	models = append(models, account.Models()...)
	models = append(models, settlement.Models()...)
	models = append(models, worker.Models()...)
	return db.Migrate(conn, models...)
}
