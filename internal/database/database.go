package database

import (
	"fmt"

	"github.com/Cyvadra/signal-relay/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens the database and migrates the schema
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate auto-migrates every persisted model
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Signal{},
		&models.Alert{},
		&models.WebhookRegistration{},
		&models.DownstreamEndpoint{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
