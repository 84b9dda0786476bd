package main

import (
	"context"
	"log"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"investhub-platform/pkg/config"
	"investhub-platform/pkg/db"
	"investhub-platform/pkg/gen"
	"investhub-platform/pkg/logger"
	"investhub-platform/services/ledger"
	"investhub-platform/services/product"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Snowflake(gen.NodeSeedProduct),
		fx.Provide(
			ledger.NewService,
			product.NewService,
		),
		fx.Invoke(seed),
		fx.NopLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func seed(conn *gorm.DB, svc *product.Service) error {
	if err := db.Migrate(conn, product.Models()...); err != nil {
		return err
	}

	n, err := svc.SeedCatalog(context.Background(), product.DefaultCatalog())
	if err != nil {
		return err
	}

	zap.L().Info("product catalog seeded", zap.Int("products", n))
	return nil
}
