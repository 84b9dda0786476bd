package main

import (
	"context"
	"log"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"investhub-platform/pkg/config"
	"investhub-platform/pkg/db"
	"investhub-platform/pkg/gen"
	"investhub-platform/pkg/logger"
	"investhub-platform/pkg/security"
	"investhub-platform/pkg/task"
	"investhub-platform/services/account"
	"investhub-platform/services/ledger"
	"investhub-platform/services/product"
	"investhub-platform/services/referral"
	"investhub-platform/services/worker"
)

// Creates the referral profile of every user that registered without one.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		task.Client,
		security.Module,
		gen.Snowflake(gen.NodeSeedReferral),
		fx.Provide(
			ledger.NewService,
			product.NewService,
			referral.NewService,
			account.NewService,
			worker.NewService,
		),
		fx.Invoke(backfill),
		fx.NopLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		log.Fatalf("backfill failed: %v", err)
	}
}

func backfill(svc *worker.Service) error {
	n, err := svc.BackfillProfiles(context.Background())
	if err != nil {
		return err
	}

	zap.L().Info("referral profiles backfilled", zap.Int("created", n))
	return nil
}
