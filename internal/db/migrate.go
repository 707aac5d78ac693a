package db

import (
	"fmt"

	"github.com/zulandar/chaatu/internal/config"
	"github.com/zulandar/chaatu/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model the mock backend stores.
func AllModels() []interface{} {
	return []interface{}{
		&models.Chat{},
		&models.ChatMessage{},
		&models.Document{},
		&models.Connection{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Open connects and migrates in one step.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		Close(db)
		return nil, err
	}
	return db, nil
}
