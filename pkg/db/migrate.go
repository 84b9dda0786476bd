package db

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate creates or alters the tables of the given models.
func Migrate(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		zap.L().Error("[DB] Failed to migrate schema", zap.Error(err))
		return err
	}

	zap.L().Info("[DB] Schema migrated", zap.Int("models", len(models)))
	return nil
}
