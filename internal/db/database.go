package db

import (
	"fmt"
	"log"

	"github.com/juan-silveira/clube-navi-sub004/internal/config"
	"github.com/juan-silveira/clube-navi-sub004/internal/metrics"
	"github.com/juan-silveira/clube-navi-sub004/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the mirror database and migrates the schema. The handle is
// returned to the caller and injected where needed; there is no package-level
// singleton.
func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	database, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		TranslateError:                           true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	log.Println("✅ Database connected successfully")
	metrics.DBConnectionStatus.Set(1)

	log.Println("🚀 Starting database schema migration with GORM AutoMigrate...")
	if err := database.AutoMigrate(
		&models.Order{},
		&models.Trade{},
		&models.OrderIDCounter{},
	); err != nil {
		return nil, fmt.Errorf("AutoMigrate failed: %w", err)
	}
	log.Println("✅ Database schema migrated successfully")

	return database, nil
}
